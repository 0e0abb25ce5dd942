package util

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/neurosnap/sentences"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"sift/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var charReplacementMap = map[string]string{
	"\u2018": "'", "\u2019": "'", "\u201C": "\"", "\u201D": "\"",
	"\u2013": "-", "\u2014": "--", "\u2026": "...", "\u00a0": " ",
	"\u0096": "-", "\u0097": "--", "\u0091": "'", "\u0092": "'",
	"\u0093": "\"", "\u0094": "\"", "\u200b": "",
}

// tags whose text never belongs to the readable body
var ignoreTags = map[string]bool{
	"script": true, "style": true, "head": true, "nav": true,
	"footer": true, "aside": true, "form": true, "noscript": true,
}

// NormalizeText repairs encoding damage, folds typographic punctuation and collapses whitespace.
func NormalizeText(s string) string {
	b := bytes.TrimPrefix([]byte(s), utf8BOM)
	if !utf8.Valid(b) {
		log.Debug("normalizing text with invalid UTF-8")
		b = bytes.ToValidUTF8(b, []byte(string(utf8.RuneError)))
	}
	str := string(b)
	for bad, good := range charReplacementMap {
		str = strings.ReplaceAll(str, bad, good)
	}
	return strings.Join(strings.Fields(str), " ")
}

// PlainText strips HTML markup from feed fields. Input without markup is returned unchanged.
func PlainText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		log.Debugf("html parse failed, keeping raw text: %v", err)
		return s
	}

	var sb strings.Builder
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && ignoreTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return sb.String()
}

// CleanArticle normalizes the text fields of a freshly ingested article in place.
func CleanArticle(a *models.Article) {
	a.Title = NormalizeText(PlainText(a.Title))
	a.Summary = NormalizeText(PlainText(a.Summary))
	a.Content = NormalizeText(PlainText(a.Content))
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

var tokenizer = sentences.NewSentenceTokenizer(nil)

// Preview shortens text to maxRunes, preferring whole sentences, and marks the cut with "...".
func Preview(text string, maxRunes int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	var sb strings.Builder
	used := 0
	for _, sent := range tokenizer.Tokenize(text) {
		s := strings.TrimSpace(sent.Text)
		if s == "" {
			continue
		}
		n := utf8.RuneCountInString(s)
		if sb.Len() > 0 {
			n++
		}
		if used+n > maxRunes {
			break
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(s)
		used += n
	}
	if sb.Len() == 0 {
		return TruncateRunes(text, maxRunes) + "..."
	}
	return sb.String() + "..."
}
