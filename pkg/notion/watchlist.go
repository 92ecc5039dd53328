package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// WatchlistEntry is one tracked company from the watchlist database.
type WatchlistEntry struct {
	Name    string
	Website string
	Notes   string
}

// ListWatchlist reads every row of the watchlist database, following
// pagination cursors. The title property supplies the company name; a
// "Website" url property and a "Notes" rich-text property are optional.
func ListWatchlist(ctx context.Context, c Client, dbID string) ([]WatchlistEntry, error) {
	var entries []WatchlistEntry

	req := &notionapi.DatabaseQueryRequest{}
	for {
		resp, err := c.QueryDatabase(ctx, dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: list watchlist")
		}

		for _, page := range resp.Results {
			if entry, ok := entryFromPage(page); ok {
				entries = append(entries, entry)
			}
		}

		if !resp.HasMore {
			return entries, nil
		}
		req = &notionapi.DatabaseQueryRequest{StartCursor: resp.NextCursor}
	}
}

func entryFromPage(page notionapi.Page) (WatchlistEntry, bool) {
	var entry WatchlistEntry
	for key, prop := range page.Properties {
		switch p := prop.(type) {
		case *notionapi.TitleProperty:
			entry.Name = strings.TrimSpace(richText(p.Title))
		case *notionapi.URLProperty:
			if strings.EqualFold(key, "website") {
				entry.Website = strings.TrimSpace(p.URL)
			}
		case *notionapi.RichTextProperty:
			if strings.EqualFold(key, "notes") {
				entry.Notes = strings.TrimSpace(richText(p.RichText))
			}
		}
	}
	return entry, entry.Name != ""
}

func richText(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part.PlainText)
	}
	return b.String()
}
