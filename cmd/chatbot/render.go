package main

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	chatmodel "github.com/nattskiftet/chatbot/internal/model/chat"
)

// renderElement returns the terminal text of el. Action links are
// returned separately so the caller can number them.
func renderElement(el chatmodel.Element) (string, []chatmodel.Link) {
	switch e := el.(type) {
	case chatmodel.TextElement:
		return e.Text, nil
	case chatmodel.HTMLElement:
		return htmlToText(e.HTML), nil
	case chatmodel.LinksElement:
		return "", e.Links
	default:
		return "", nil
	}
}

// htmlToText flattens an agent HTML fragment. Block elements become line
// breaks, list items are bulleted and anchors keep their target.
func htmlToText(fragment string) string {
	var (
		b    strings.Builder
		href []string
	)
	z := html.NewTokenizer(strings.NewReader(fragment))

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return fragment
			}
			return tidy(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "br":
				b.WriteByte('\n')
			case "p", "div", "ul", "ol":
				b.WriteByte('\n')
			case "li":
				b.WriteString("\n- ")
			case "a":
				target := ""
				for hasAttr {
					var key, val []byte
					key, val, hasAttr = z.TagAttr()
					if string(key) == "href" {
						target = string(val)
					}
				}
				href = append(href, target)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "div", "ul", "ol":
				b.WriteByte('\n')
			case "a":
				if n := len(href); n > 0 {
					if target := href[n-1]; target != "" {
						fmt.Fprintf(&b, " (%s)", target)
					}
					href = href[:n-1]
				}
			}
		}
	}
}

// tidy trims every line and collapses runs of blank lines.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// renderLinks numbers links starting at offset+1.
func renderLinks(links []chatmodel.Link, offset int) string {
	var b strings.Builder
	for i, link := range links {
		if link.IsExternal() {
			fmt.Fprintf(&b, "  [%d] %s <%s>\n", offset+i+1, link.Text, link.URL)
			continue
		}
		fmt.Fprintf(&b, "  [%d] %s\n", offset+i+1, link.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
