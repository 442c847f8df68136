package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	fetchTimeout   = 30 * time.Second
	fetchBodyLimit = 5 << 20
	fetchTextLimit = 50000
	fetchRedirects = 10
	fetchUserAgent = "taskcore/1.0"
)

// WebFetchTool downloads a page and returns its readable text.
type WebFetchTool struct {
	HTTPClient *http.Client
}

func (w *WebFetchTool) Group() string { return "power" }
func (w *WebFetchTool) Name() string  { return "fetch" }

func (w *WebFetchTool) Description() string {
	return "Fetches an http(s) URL. HTML is converted to plain text with headings, list items and link targets kept; other text types are returned as-is."
}

func (w *WebFetchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute http or https URL",
			},
		},
		"required": []string{"url"},
	}
}

func (w *WebFetchTool) SideEffect() SideEffectType { return SideEffectNetwork }

func (w *WebFetchTool) client() *http.Client {
	if w.HTTPClient != nil {
		return w.HTTPClient
	}
	return &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= fetchRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}

func (w *WebFetchTool) Execute(ctx context.Context, _ Env, input map[string]any) (ToolOutput, error) {
	raw, _ := input["url"].(string)
	if raw == "" {
		return errorOutput("url is required"), nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errorOutput("url must be an absolute http or https URL"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errorOutput("%s", err), nil
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := w.client().Do(req)
	if err != nil {
		return errorOutput("fetching %s: %s", u, err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errorOutput("HTTP %d from %s", resp.StatusCode, u), nil
	}

	body := io.LimitReader(resp.Body, fetchBodyLimit)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	var text string
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		doc, err := html.Parse(body)
		if err != nil {
			return errorOutput("parsing HTML: %s", err), nil
		}
		text = pageText(doc)
	default:
		data, err := io.ReadAll(body)
		if err != nil {
			return errorOutput("reading response: %s", err), nil
		}
		text = string(data)
	}

	if len(text) > fetchTextLimit {
		text = text[:fetchTextLimit] + "\n... (truncated)"
	}
	return ToolOutput{Content: fmt.Sprintf("Fetched %s:\n\n%s", resp.Request.URL, text)}, nil
}

// pageText renders the visible text of an HTML document, one block
// element per line.
func pageText(doc *html.Node) string {
	var r textRenderer
	r.walk(doc)
	r.flush()
	return strings.TrimSpace(strings.Join(r.lines, "\n"))
}

type textRenderer struct {
	lines []string
	cur   strings.Builder
	pre   int
}

func (r *textRenderer) flush() {
	if s := strings.TrimSpace(r.cur.String()); s != "" {
		r.lines = append(r.lines, s)
	}
	r.cur.Reset()
}

func (r *textRenderer) text(s string) {
	if r.pre > 0 {
		r.cur.WriteString(s)
		return
	}
	if s = strings.Join(strings.Fields(s), " "); s == "" {
		return
	}
	if r.cur.Len() > 0 {
		r.cur.WriteByte(' ')
	}
	r.cur.WriteString(s)
}

func (r *textRenderer) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		r.text(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg:
			return
		}
	}

	block := n.Type == html.ElementNode && isBlock(n.DataAtom)
	if block {
		r.flush()
	}
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		r.cur.WriteString(strings.Repeat("#", int(n.Data[1]-'0')))
	case atom.Li:
		r.cur.WriteString("-")
	case atom.Pre:
		r.pre++
		defer func() { r.pre-- }()
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c)
	}

	if n.DataAtom == atom.A {
		if href := attr(n, "href"); strings.HasPrefix(href, "http") {
			r.text("(" + href + ")")
		}
	}
	if block {
		r.flush()
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.Address, atom.Article, atom.Aside, atom.Blockquote, atom.Br, atom.Dd,
		atom.Div, atom.Dl, atom.Dt, atom.Footer, atom.Form, atom.H1, atom.H2,
		atom.H3, atom.H4, atom.H5, atom.H6, atom.Header, atom.Hr, atom.Li,
		atom.Main, atom.Nav, atom.Ol, atom.P, atom.Pre, atom.Section,
		atom.Table, atom.Td, atom.Th, atom.Tr, atom.Ul:
		return true
	}
	return false
}
