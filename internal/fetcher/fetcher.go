// Package fetcher downloads timetable spreadsheets and decodes them into grids.
package fetcher

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/xuri/excelize/v2"

	"timetable_bot/internal/model"
)

// Document source errors.
var (
	ErrUnreachable   = errors.New("document unreachable")
	ErrInvalidFormat = errors.New("invalid document format")
)

// Format selects the export format requested from the spreadsheet.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const maxBody = 10 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads spreadsheets and caches decoded grids per export URL.
type Fetcher struct {
	client HTTPClient
	format Format
	cache  *cache.Cache
}

// New creates a Fetcher. A zero ttl disables caching.
func New(client HTTPClient, format Format, ttl time.Duration) *Fetcher {
	f := &Fetcher{client: client, format: format}
	if ttl > 0 {
		f.cache = cache.New(ttl, 2*ttl)
	}
	return f
}

// Fetch downloads the document at link and returns its first sheet as a grid.
func (f *Fetcher) Fetch(ctx context.Context, link string) (model.Grid, error) {
	exportURL, err := ExportURL(link, f.format)
	if err != nil {
		return nil, err
	}
	if f.cache != nil {
		if g, ok := f.cache.Get(exportURL); ok {
			return g.(model.Grid), nil
		}
	}

	body, err := f.download(ctx, exportURL)
	if err != nil {
		return nil, err
	}

	var g model.Grid
	switch f.format {
	case FormatXLSX:
		g, err = decodeXLSX(body)
	default:
		g, err = decodeCSV(body)
	}
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		f.cache.SetDefault(exportURL, g)
	}
	return g, nil
}

// Forget drops the cached grid for link, if any.
func (f *Fetcher) Forget(link string) {
	if f.cache == nil {
		return
	}
	if u, err := ExportURL(link, f.format); err == nil {
		f.cache.Delete(u)
	}
}

func (f *Fetcher) download(ctx context.Context, exportURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "TimetableBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %w", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnreachable, err)
	}
	// A truncated document would still parse into a partial timetable.
	if len(body) > maxBody {
		return nil, fmt.Errorf("%w: document larger than %d bytes", ErrInvalidFormat, maxBody)
	}
	return body, nil
}

func decodeCSV(body []byte) (model.Grid, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse csv: %w", ErrInvalidFormat, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidFormat)
	}
	return model.Grid(records), nil
}

func decodeXLSX(body []byte) (model.Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %w", ErrInvalidFormat, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidFormat)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %w", ErrInvalidFormat, sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty sheet %q", ErrInvalidFormat, sheets[0])
	}
	return model.Grid(rows), nil
}

var sheetPath = regexp.MustCompile(`^(/spreadsheets/d/[A-Za-z0-9_-]+)`)

// NormalizeLink reduces a Google Sheets URL to its document root, dropping
// "/edit", query strings and fragments. Other http(s) URLs are returned
// without a trailing slash.
func NormalizeLink(link string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("link must be an http(s) URL")
	}
	if u.Host == "docs.google.com" {
		if m := sheetPath.FindStringSubmatch(u.Path); m != nil {
			return "https://docs.google.com" + m[1], nil
		}
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// ExportURL returns the download URL of link in the given format.
func ExportURL(link string, format Format) (string, error) {
	base, err := NormalizeLink(link)
	if err != nil {
		return "", err
	}
	switch format {
	case FormatCSV:
		return base + "/gviz/tq?tqx=out:csv", nil
	case FormatXLSX:
		return base + "/export?format=xlsx", nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}
