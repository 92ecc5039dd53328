package feeds

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Header aliases accepted in seed lists. Matching is case-insensitive on the
// trimmed column name.
var (
	nameColumns    = map[string]bool{"name": true, "company": true, "company name": true, "organization": true, "account": true}
	websiteColumns = map[string]bool{"website": true, "domain": true, "url": true, "website url": true}
	contextColumns = map[string]bool{"context": true, "notes": true, "description": true, "industry": true}
)

// columnMap locates the name/website/context columns in a header row.
// Returns ok=false when no recognizable name column exists.
type columnMap struct {
	name, website, context int
}

func mapColumns(header []string) (columnMap, bool) {
	cm := columnMap{name: -1, website: -1, context: -1}
	for i, col := range header {
		key := strings.ToLower(strings.TrimSpace(col))
		switch {
		case cm.name < 0 && nameColumns[key]:
			cm.name = i
		case cm.website < 0 && websiteColumns[key]:
			cm.website = i
		case cm.context < 0 && contextColumns[key]:
			cm.context = i
		}
	}
	return cm, cm.name >= 0
}

func (cm columnMap) entry(row []string) (SeedEntry, bool) {
	pick := func(idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	e := SeedEntry{
		Name:    pick(cm.name),
		Website: pick(cm.website),
		Context: pick(cm.context),
	}
	return e, e.Name != ""
}

// parseCSV reads a seed list. A recognizable header row drives column
// mapping; headerless files are treated as single-column name lists.
func parseCSV(r io.Reader) ([]SeedEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	first, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}

	cm, hasHeader := mapColumns(first)
	if !hasHeader {
		cm = columnMap{name: 0, website: -1, context: -1}
	}

	var entries []SeedEntry
	if !hasHeader {
		if e, ok := cm.entry(first); ok {
			entries = append(entries, e)
		}
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		if e, ok := cm.entry(row); ok {
			entries = append(entries, e)
		}
	}
}
