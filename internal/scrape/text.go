package scrape

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// nonContentSelectors are removed before text extraction. Header, nav and
// footer stay: facility sites put phone numbers and hours there.
const nonContentSelectors = "script, style, noscript, template, svg, iframe"

// ExtractText parses HTML and returns the page title and its readable text,
// one block per line with whitespace collapsed.
func ExtractText(body []byte) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", eris.Wrap(err, "scrape: parse html")
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
			title = strings.TrimSpace(og)
		}
	}

	var lines []string
	if desc, ok := doc.Find("meta[name='description']").Attr("content"); ok {
		if desc = collapse(desc); desc != "" {
			lines = append(lines, desc)
		}
	}

	root := doc.Find("body").First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	root.Find(nonContentSelectors).Remove()

	// Block-level elements become line breaks so "06:00" and "23:00" in
	// adjacent cells stay on one line but separate rows do not merge.
	root.Find("br, p, div, li, tr, h1, h2, h3, h4, h5, h6, dt, dd, section, article").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	for _, line := range strings.Split(root.Text(), "\n") {
		if line = collapse(line); line != "" {
			lines = append(lines, line)
		}
	}
	return title, strings.Join(lines, "\n"), nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
