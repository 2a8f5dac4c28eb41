package listing

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// NginxFancyIndexParser is the default Parser implementation: it parses the
// table-based autoindex page produced by nginx's fancyindex module (and
// compatible layouts), walking <tbody><tr><td class="link|size|date">
// rows. Ported from original_source's scraper-based FancyIndexListingParser
// onto an explicit golang.org/x/net/html DOM walk.
type NginxFancyIndexParser struct{}

func (NginxFancyIndexParser) GetList(ctx context.Context, client HTTPGetter, rawURL string) (ListResult, error) {
	finalURL, body, err := client.GetBody(ctx, rawURL)
	if err != nil {
		if re, ok := asRedirect(err); ok {
			target, joinErr := joinURL(finalURL, re)
			if joinErr != nil {
				return ListResult{}, joinErr
			}
			return ListResult{Redirect: target}, nil
		}
		return ListResult{}, err
	}
	base, err := url.Parse(finalURL)
	if err != nil {
		return ListResult{}, fmt.Errorf("listing: parse base url %q: %w", finalURL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		return ListResult{}, fmt.Errorf("listing: index url %q has no trailing slash", finalURL)
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ListResult{}, fmt.Errorf("listing: parse html: %w", err)
	}

	var items []Item
	for _, row := range findAll(doc, "tr") {
		a := findFirst(row, "a")
		if a == nil {
			continue
		}
		href := attr(a, "href")
		displayText := textContent(a)
		if displayText == "Parent Directory/" || href == "../" || href == "" {
			continue
		}
		name := realNameFromHref(href)
		if name == "." || name == ".." {
			continue
		}

		resolved, err := base.Parse(href)
		if err != nil {
			continue
		}
		typ := File
		if strings.HasSuffix(resolved.String(), "/") {
			typ = Directory
		}

		var size *FileSize
		if sizeText := strings.TrimSpace(textOfClass(row, "size")); sizeText != "" && sizeText != "-" {
			if h, err := ParseHumanizedSize(sizeText); err == nil {
				size = &FileSize{Humanized: h}
			}
		}

		mtime := time.Time{}
		if dateText := strings.TrimSpace(textOfClass(row, "date")); dateText != "" {
			if t, err := parseNaiveDateTime(dateText); err == nil {
				mtime = t
			}
		}

		items = append(items, Item{
			URL:   resolved.String(),
			Name:  name,
			Type:  typ,
			Size:  size,
			MTime: mtime,
		})
	}

	return ListResult{Items: items}, nil
}

func parseNaiveDateTime(s string) (time.Time, error) {
	switch len(s) {
	case 16:
		return time.Parse("2006-01-02 15:04", s)
	case 19:
		return time.Parse("2006-01-02 15:04:05", s)
	default:
		return time.Parse("2006-01-02 15:04:05", s)
	}
}

func realNameFromHref(href string) string {
	name := strings.TrimSuffix(href, "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	unescaped, err := url.QueryUnescape(name)
	if err != nil {
		return name
	}
	return unescaped
}

func joinURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := b.Parse(ref)
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

// --- minimal golang.org/x/net/html traversal helpers ---

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findFirstWithClass(n *html.Node, tag, class string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirstWithClass(c, tag, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func textOfClass(row *html.Node, class string) string {
	td := findFirstWithClass(row, "td", class)
	if td == nil {
		return ""
	}
	return textContent(td)
}

func asRedirect(err error) (string, bool) {
	if re, ok := err.(interface{ RedirectLocation() string }); ok {
		return re.RedirectLocation(), true
	}
	return "", false
}
