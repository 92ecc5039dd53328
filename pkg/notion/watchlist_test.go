package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotion struct {
	pages   []*notionapi.DatabaseQueryResponse
	cursors []notionapi.Cursor
	calls   int
}

func (f *fakeNotion) QueryDatabase(_ context.Context, _ string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	f.cursors = append(f.cursors, req.StartCursor)
	resp := f.pages[f.calls]
	f.calls++
	return resp, nil
}

func titlePage(name, website string) notionapi.Page {
	props := notionapi.Properties{
		"Name": &notionapi.TitleProperty{
			Title: []notionapi.RichText{{PlainText: name}},
		},
	}
	if website != "" {
		props["Website"] = &notionapi.URLProperty{URL: website}
	}
	return notionapi.Page{Properties: props}
}

func TestListWatchlistFollowsPagination(t *testing.T) {
	f := &fakeNotion{
		pages: []*notionapi.DatabaseQueryResponse{
			{
				Results:    []notionapi.Page{titlePage("Acme Inc", "https://acme.com")},
				HasMore:    true,
				NextCursor: notionapi.Cursor("cursor-2"),
			},
			{
				Results: []notionapi.Page{
					titlePage("Quiet Harbor", ""),
					titlePage("", "https://nameless.example"), // skipped
				},
			},
		},
	}

	entries, err := ListWatchlist(context.Background(), f, "db-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Acme Inc", entries[0].Name)
	assert.Equal(t, "https://acme.com", entries[0].Website)
	assert.Equal(t, "Quiet Harbor", entries[1].Name)

	require.Equal(t, 2, f.calls)
	assert.Equal(t, notionapi.Cursor("cursor-2"), f.cursors[1])
}

func TestEntryFromPageReadsNotes(t *testing.T) {
	page := titlePage("Acme Inc", "")
	page.Properties["Notes"] = &notionapi.RichTextProperty{
		RichText: []notionapi.RichText{{PlainText: "competitor "}, {PlainText: "watch"}},
	}

	entry, ok := entryFromPage(page)
	require.True(t, ok)
	assert.Equal(t, "competitor watch", entry.Notes)
}
