package pipeline

import (
	"net/url"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/siherrmann/webgraph/helper"
	"github.com/siherrmann/webgraph/model"
)

// DefaultExtractor extracts the main text of a page with go-readability.
// Pages readability cannot handle fall back to their paragraph text and
// finally to the tag-stripped body. The title falls back to the page URL.
func DefaultExtractor() ExtractFunc {
	policy := bluemonday.StrictPolicy()

	return func(pageURL string, html string) (model.Article, error) {
		article := model.Article{Title: pageURL}
		if strings.TrimSpace(html) == "" {
			return article, nil
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return article, helper.NewError("parse html", err)
		}

		if title := extractTitle(doc); title != "" {
			article.Title = title
		}

		doc.Find("head, script, style, noscript, template, iframe, svg, nav, header, footer, aside, form").Remove()
		if strings.TrimSpace(doc.Text()) == "" {
			return article, nil
		}

		cleaned, err := doc.Html()
		if err != nil {
			return article, helper.NewError("render html", err)
		}

		article.Text = readableText(cleaned, pageURL)
		if article.Text == "" {
			article.Text = paragraphText(doc)
		}
		if article.Text == "" {
			article.Text = normalizeLines(policy.Sanitize(cleaned))
		}

		return article, nil
	}
}

func readableText(html string, pageURL string) string {
	var base *url.URL
	if parsed, err := url.Parse(pageURL); err == nil && parsed.Host != "" {
		base = parsed
	}

	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil {
		return ""
	}

	var buf strings.Builder
	if err := article.RenderText(&buf); err != nil {
		return ""
	}
	return normalizeLines(buf.String())
}

// extractTitle tries <title>, og:title and the first <h1> in this order.
func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if ogTitle, ok := doc.Find("meta[property='og:title']").First().Attr("content"); ok && strings.TrimSpace(ogTitle) != "" {
		return strings.TrimSpace(ogTitle)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func paragraphText(doc *goquery.Document) string {
	var parts []string
	doc.Find("p, h1, h2, h3, h4, h5, h6, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n")
}

// normalizeLines collapses whitespace within lines and drops empty lines.
func normalizeLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
