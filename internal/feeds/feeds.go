// Package feeds loads seed lists of organization names from CSV and XLSX
// files reachable over HTTP, FTP, or the local filesystem. Seed entries feed
// the discovery collector as a medium-confidence source.
package feeds

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SeedEntry is one row of a seed list: a company name plus whatever
// supporting columns the list carries.
type SeedEntry struct {
	Name    string
	Website string
	Context string
}

// Options configures the seed loader.
type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// Loader fetches and parses seed lists.
type Loader struct {
	client *http.Client
	opts   Options
}

// NewLoader creates a seed-list loader.
func NewLoader(opts Options) *Loader {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "prospect-pipeline/1.0"
	}
	return &Loader{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

// Load fetches one seed list and parses it. The source may be an http(s)
// URL, an ftp URL, or a local file path; the format is chosen by file
// extension (.xlsx for spreadsheets, anything else parsed as CSV).
func (l *Loader) Load(ctx context.Context, source string) ([]SeedEntry, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: parse source %q", source)
	}

	isXLSX := strings.EqualFold(path.Ext(u.Path), ".xlsx")

	switch u.Scheme {
	case "http", "https":
		body, err := l.fetchHTTP(ctx, source)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		return l.parse(body, isXLSX, source)
	case "ftp":
		body, err := fetchFTP(ctx, source, l.opts.Timeout)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		return l.parse(body, isXLSX, source)
	case "", "file":
		p := u.Path
		if u.Scheme == "" {
			p = source
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, eris.Wrapf(err, "feeds: open %s", p)
		}
		defer f.Close()
		return l.parse(f, strings.EqualFold(path.Ext(p), ".xlsx"), source)
	default:
		return nil, eris.Errorf("feeds: unsupported scheme %q", u.Scheme)
	}
}

func (l *Loader) parse(r io.Reader, isXLSX bool, source string) ([]SeedEntry, error) {
	var entries []SeedEntry
	var err error
	if isXLSX {
		entries, err = parseXLSX(r)
	} else {
		entries, err = parseCSV(r)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: parse %s", source)
	}

	zap.L().Debug("feeds: seed list loaded",
		zap.String("source", source),
		zap.Int("entries", len(entries)),
	)
	return entries, nil
}

func (l *Loader) fetchHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "feeds: build request")
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: get %s", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, eris.Errorf("feeds: get %s: status %d", rawURL, resp.StatusCode)
	}
	return resp.Body, nil
}
