package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
	"github.com/Aman-CERP/careindex/internal/fsutil"
)

// maxPageBytes bounds a single fetched page.
const maxPageBytes = 5 << 20

// ScraperOptions configures HTTPScraper.
type ScraperOptions struct {
	RequestsPerSecond float64
	UserAgent         string
	Timeout           time.Duration
	// Now stamps retrieved_at on new or changed pages.
	Now func() time.Time
}

// HTTPScraper materializes the web corpus: it fetches every trusted page
// into a staging directory and swaps it in place of OutDir only when the
// whole scrape succeeded, so pages of removed sites disappear and a failed
// scrape leaves the previous corpus untouched.
type HTTPScraper struct {
	OutDir  string
	client  *http.Client
	limiter *rate.Limiter
	agent   string
	now     func() time.Time
	logger  *slog.Logger
}

// NewHTTPScraper creates a scraper writing into outDir.
func NewHTTPScraper(outDir string, opts ScraperOptions, logger *slog.Logger) *HTTPScraper {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPScraper{
		OutDir:  outDir,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		agent:   opts.UserAgent,
		now:     opts.Now,
		logger:  logger,
	}
}

// MaterializeWeb scrapes every configured page. A page answering 4xx or
// larger than maxPageBytes is skipped. A page that cannot be fetched (network
// failure, 5xx) keeps its previous copy when there is one, so one
// unreachable site never holds back the rest of the run.
func (s *HTTPScraper) MaterializeWeb(ctx context.Context, sites *SitesConfig) ([]Document, error) {
	if err := sites.Validate(); err != nil {
		return nil, err
	}

	parent := filepath.Dir(s.OutDir)
	staging := filepath.Join(parent, "."+filepath.Base(s.OutDir)+".staging")
	if err := os.RemoveAll(staging); err != nil {
		return nil, cerrors.StorageError("clear web staging dir", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, cerrors.StorageError("create web staging dir", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	var (
		docs         []Document
		kept, missed int
	)
	for _, site := range sites.Sites {
		for _, pageURL := range site.URLs {
			id := WebDocumentID(site.Domain, pageURL)
			doc, err := s.scrape(ctx, site, pageURL, id)
			switch {
			case err == nil:
				s.keepRetrievalDate(doc)
			case cerrors.HasCode(err, cerrors.ErrCodeInvalidDocument):
				s.logger.Warn("page_skipped", slog.String("url", pageURL), slog.String("error", err.Error()))
				continue
			case cerrors.HasCode(err, cerrors.ErrCodeFetchFailed) && ctx.Err() == nil:
				prev, perr := ReadDocument(s.OutDir, id, KindWeb)
				if perr != nil {
					missed++
					s.logger.Warn("page_unavailable", slog.String("url", pageURL), slog.String("error", err.Error()))
					continue
				}
				kept++
				s.logger.Warn("page_unavailable_previous_kept", slog.String("url", pageURL), slog.String("error", err.Error()))
				doc = prev
			default:
				return nil, err
			}
			if _, err := WriteDocument(staging, doc); err != nil {
				return nil, err
			}
			docs = append(docs, *doc)
		}
	}

	if err := swapDir(staging, s.OutDir); err != nil {
		return nil, cerrors.StorageError("replace web corpus", err)
	}
	s.logger.Info("web_corpus_materialized",
		slog.Int("pages", len(docs)),
		slog.Int("configured", sites.PageCount()),
		slog.Int("previous_kept", kept),
		slog.Int("unavailable", missed))
	return docs, nil
}

func (s *HTTPScraper) scrape(ctx context.Context, site Site, pageURL, id string) (*Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The wait alone would outlive the deadline.
		return nil, fmt.Errorf("wait to fetch %s: %w", pageURL, context.DeadlineExceeded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeInvalidDocument, "build request", err)
	}
	if s.agent != "" {
		req.Header.Set("User-Agent", s.agent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFetchFailed, "fetch "+pageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return nil, cerrors.New(cerrors.ErrCodeFetchFailed, fmt.Sprintf("fetch %s: status %d", pageURL, resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, cerrors.New(cerrors.ErrCodeInvalidDocument, fmt.Sprintf("fetch %s: status %d", pageURL, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes+1))
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFetchFailed, "read "+pageURL, err)
	}
	if len(body) > maxPageBytes {
		return nil, cerrors.New(cerrors.ErrCodeInvalidDocument,
			fmt.Sprintf("fetch %s: page larger than %d bytes", pageURL, maxPageBytes), nil)
	}

	doc := ParseHTML(string(body), pageURL)
	doc.ID = id
	doc.Metadata.Domain = strings.ToLower(site.Domain)
	return doc, nil
}

// keepRetrievalDate reuses the previous retrieved_at when the page content
// did not change, keeping the output byte-identical across scrapes.
func (s *HTTPScraper) keepRetrievalDate(doc *Document) {
	path := filepath.Join(s.OutDir, filepath.FromSlash(doc.ID)+".json")
	if data, err := os.ReadFile(path); err == nil {
		if prev, err := Decode(data); err == nil {
			probe := *doc
			probe.Kind = prev.Kind
			probe.Metadata.RetrievedAt = prev.Metadata.RetrievedAt
			if a, err := Encode(&probe); err == nil {
				if b, err := Encode(prev); err == nil && string(a) == string(b) {
					doc.Metadata.RetrievedAt = prev.Metadata.RetrievedAt
					return
				}
			}
		}
	}
	doc.Metadata.RetrievedAt = s.now().UTC().Format("2006-01-02")
}

// swapDir replaces dst with src via renames.
func swapDir(src, dst string) error {
	old := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".old")
	_ = os.RemoveAll(old)
	if err := os.Rename(dst, old); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		_ = os.Rename(old, dst)
		return err
	}
	_ = os.RemoveAll(old)
	return fsutil.SyncDir(filepath.Dir(dst))
}

var slugChars = regexp.MustCompile(`[^a-z0-9]+`)

// WebDocumentID derives the id for a page: <domain>/<path-slug>. When the
// slug does not spell the path exactly, or the page sits on another
// subdomain, a short hash of host and path is appended; a query string adds
// its own hash. Distinct pages of one site thus keep distinct ids.
func WebDocumentID(domain, pageURL string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	u, err := url.Parse(pageURL)
	if err != nil {
		return domain + "/" + shortHash(pageURL)
	}
	path := strings.TrimPrefix(u.Path, "/")
	slug := strings.Trim(slugChars.ReplaceAllString(strings.ToLower(path), "-"), "-")
	if slug == "" {
		slug = "index"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	exact := path == "" || (slug == path && slug != "index")
	if !exact || host != strings.TrimPrefix(domain, "www.") {
		slug += "-" + shortHash(host+u.Path)
	}
	if u.RawQuery != "" {
		slug += "-" + shortHash(u.RawQuery)
	}
	return domain + "/" + slug
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}

var (
	titleTag    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headingTag  = regexp.MustCompile(`(?is)<h([1-3])[^>]*>(.*?)</h[1-3]>`)
	dropTags    = regexp.MustCompile(`(?is)<(script|style|noscript|head|svg|nav|footer)[^>]*>.*?</(script|style|noscript|head|svg|nav|footer)>`)
	comments    = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockTags   = regexp.MustCompile(`(?i)</?(p|div|br|hr|li|tr|blockquote|pre|table|section|article|ul|ol)[^>]*>`)
	anyTag      = regexp.MustCompile(`<[^>]+>`)
	multiSpaces = regexp.MustCompile(`[ \t\r\f\v]+`)
)

// ParseHTML extracts a title and heading-delimited sections from a page.
func ParseHTML(page, pageURL string) *Document {
	title := ""
	if m := titleTag.FindStringSubmatch(page); len(m) > 1 {
		title = cleanInline(m[1])
	}

	body := comments.ReplaceAllString(page, "")
	body = dropTags.ReplaceAllString(body, "")

	var sections []Section
	heading := ""
	last := 0
	for _, loc := range headingTag.FindAllStringSubmatchIndex(body, -1) {
		if text := stripHTML(body[last:loc[0]]); text != "" {
			sections = append(sections, Section{Heading: heading, Text: text})
		}
		heading = cleanInline(body[loc[4]:loc[5]])
		if title == "" && body[loc[2]:loc[3]] == "1" {
			title = heading
		}
		last = loc[1]
	}
	if text := stripHTML(body[last:]); text != "" {
		sections = append(sections, Section{Heading: heading, Text: text})
	}

	if title == "" {
		title = pageURL
	}
	return &Document{
		Kind:     KindWeb,
		Title:    title,
		Sections: sections,
		Metadata: Metadata{SourceURL: pageURL},
	}
}

func stripHTML(fragment string) string {
	text := blockTags.ReplaceAllString(fragment, "\n")
	text = anyTag.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = multiSpaces.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func cleanInline(s string) string {
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(multiSpaces.ReplaceAllString(s, " "))
}
