package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/spigell/job-pilot/internal/apperr"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	maxPageBytes     = 4 << 20
	minDescription   = 100
	maxFallbackText  = 5000
)

// Page is what could be read from a single posting page.
type Page struct {
	URL         string
	Title       string
	Company     string
	Location    string
	Description string
	RemoteOK    bool
}

// selector matches an element by tag, or by a substring of an attribute.
type selector struct {
	tag      atom.Atom
	attr     string
	contains string
}

func (s selector) match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != 0 {
		return n.DataAtom == s.tag
	}
	for _, a := range n.Attr {
		if a.Key == s.attr && strings.Contains(a.Val, s.contains) {
			return true
		}
	}
	return false
}

var (
	titleSelectors = []selector{
		{tag: atom.H1},
		{attr: "class", contains: "job-title"},
		{attr: "class", contains: "jobTitle"},
		{attr: "data-testid", contains: "title"},
		{tag: atom.Title},
	}
	companySelectors = []selector{
		{attr: "class", contains: "company"},
		{attr: "class", contains: "employer"},
		{attr: "data-testid", contains: "company"},
	}
	locationSelectors = []selector{
		{attr: "class", contains: "location"},
		{attr: "data-testid", contains: "location"},
	}
	descriptionSelectors = []selector{
		{attr: "class", contains: "description"},
		{attr: "id", contains: "description"},
		{tag: atom.Article},
		{tag: atom.Main},
	}

	locationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:Location|Based in|Office in):\s*([A-Za-z][A-Za-z ,]*)`),
		regexp.MustCompile(`(?i)\b(Berlin|Munich|München|Hamburg|Frankfurt|Cologne|Remote)\b`),
	}
)

// Converter turns posting HTML into sanitized markdown.
type Converter struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

func NewConverter() *Converter {
	return &Converter{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown sanitizes rawHTML and converts it. If conversion fails or produces
// nothing, the sanitized text content is returned.
func (c *Converter) Markdown(rawHTML, pageURL string) string {
	clean := c.policy.Sanitize(rawHTML)
	result, err := c.md.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(result) == "" {
		return collapse(html.UnescapeString(bluemonday.StrictPolicy().Sanitize(clean)))
	}
	return strings.TrimSpace(result)
}

// Fetcher reads a single posting page over plain HTTP.
type Fetcher struct {
	HTTPClient *http.Client
	UserAgent  string
	converter  *Converter
	logger     *zap.Logger
}

func NewFetcher(logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		UserAgent:  browserUserAgent,
		converter:  NewConverter(),
		logger:     logger,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, apperr.Validation("invalid url %q: %v", pageURL, err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html")

	f.logger.Debug("fetch posting page", zap.String("url", pageURL))
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, apperr.ExternalCapability("fetch posting page", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return nil, apperr.ExternalCapability(fmt.Sprintf("fetch posting page: bad status: %s", resp.Status), nil, transient)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, apperr.ExternalCapability("read posting page", err, true)
	}

	return f.Parse(bytes.NewReader(body), pageURL)
}

// Parse extracts posting fields using generic heuristics that work on most
// career pages.
func (f *Fetcher) Parse(r io.Reader, pageURL string) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, apperr.Validation("parse posting page: %v", err)
	}

	page := &Page{
		URL:      pageURL,
		Title:    firstText(doc, titleSelectors),
		Company:  firstText(doc, companySelectors),
		Location: firstText(doc, locationSelectors),
	}
	if page.Title == "" {
		return nil, apperr.Validation("no job title found on %s", pageURL)
	}

	all := textOf(doc)
	if page.Location == "" {
		for _, re := range locationPatterns {
			if m := re.FindStringSubmatch(all); m != nil {
				page.Location = strings.TrimSpace(m[1])
				break
			}
		}
	}

	for _, sel := range descriptionSelectors {
		n := find(doc, sel)
		if n == nil || len(textOf(n)) <= minDescription {
			continue
		}
		var buf bytes.Buffer
		if err := html.Render(&buf, n); err != nil {
			continue
		}
		page.Description = f.converter.Markdown(buf.String(), pageURL)
		break
	}
	if page.Description == "" {
		page.Description = truncateRunes(all, maxFallbackText)
	}

	lower := strings.ToLower(all)
	for _, kw := range []string{"remote", "work from home", "wfh", "distributed", "anywhere"} {
		if strings.Contains(lower, kw) {
			page.RemoteOK = true
			break
		}
	}

	return page, nil
}

func find(n *html.Node, sel selector) *html.Node {
	if sel.match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hit := find(c, sel); hit != nil {
			return hit
		}
	}
	return nil
}

func firstText(doc *html.Node, selectors []selector) string {
	for _, sel := range selectors {
		if n := find(doc, sel); n != nil {
			if text := textOf(n); text != "" {
				return text
			}
		}
	}
	return ""
}

// textOf returns the visible text of a subtree with whitespace collapsed.
func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return collapse(sb.String())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
