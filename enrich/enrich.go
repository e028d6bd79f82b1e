// Package enrich ingests the links people share in chat. When a message
// contains a URL, the enricher fetches it in the background, extracts
// readable text (HTML via readability, PDFs via a pure-Go extractor),
// embeds it, and stores it alongside the conversation so link content
// is searchable too.
package enrich

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/vectordb"
)

// maxFetchBytes caps how much of a linked document is downloaded.
const maxFetchBytes = 1 << 20

// maxStoredChars caps how much extracted text is stored per link.
const maxStoredChars = 8000

// urlPattern matches http(s) URLs in message text, including the
// <url> and <url|label> forms the chat service wraps them in.
var urlPattern = regexp.MustCompile(`https?://[^\s<>|]+`)

// Embedder is the slice of the privacy router the enricher needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, string, error)
}

// Enricher fetches and indexes linked documents.
type Enricher struct {
	db       *vectordb.DB
	embedder Embedder
	client   *http.Client
	logger   *slog.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Enricher) { e.client = c }
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Enricher) { e.logger = l }
}

// New creates an Enricher writing into db.
func New(db *vectordb.DB, embedder Embedder, opts ...Option) *Enricher {
	e := &Enricher{
		db:       db,
		embedder: embedder,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractURLs returns the URLs mentioned in a message, deduplicated in
// order of first appearance.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?)")
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// ProcessMessage indexes every URL in the event's text. Failures are
// logged and swallowed; link enrichment never disturbs the ingest path.
func (e *Enricher) ProcessMessage(ctx context.Context, ev parley.Event) {
	for _, link := range ExtractURLs(ev.Text) {
		if err := e.ingestLink(ctx, link, ev); err != nil {
			e.logger.Warn("link enrichment failed", "url", link, "error", err)
		}
	}
}

func (e *Enricher) ingestLink(ctx context.Context, link string, ev parley.Event) error {
	text, err := e.fetch(ctx, link)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no extractable text")
	}
	if len(text) > maxStoredChars {
		text = text[:maxStoredChars]
	}

	vec, method, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed link text: %w", err)
	}

	id := parley.LinkID(ev.TS, ev.Channel)
	meta := parley.Metadata{
		parley.MetaText:            text,
		parley.MetaUserID:          ev.User,
		parley.MetaChannel:         ev.Channel,
		parley.MetaTimestamp:       parley.ParseTS(ev.TS),
		parley.MetaEmbeddingMethod: method,
		parley.MetaSourceURL:       link,
	}
	if err := e.db.Insert(ctx, id, vec, meta); err != nil {
		return fmt.Errorf("store link record: %w", err)
	}
	e.logger.Info("link indexed", "url", link, "id", id, "chars", len(text))
	return nil
}

// fetch downloads the document and extracts readable text based on its
// content type.
func (e *Enricher) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ParleyBot/1.0)")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") || strings.HasSuffix(rawURL, ".pdf") {
		return extractPDF(body)
	}
	return extractHTML(string(body), rawURL), nil
}

func extractHTML(html, rawURL string) string {
	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent)
	}
	return stripTags(html)
}

func extractPDF(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripTags is the crude fallback when readability cannot parse the
// page.
func stripTags(html string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(html, " "))
}
