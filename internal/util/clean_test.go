package util

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"sift/internal/models"
)

func TestNormalizeText(t *testing.T) {
	in := "\xEF\xBB\xBF“Quantum”   leap — now…"
	assert.Equal(t, `"Quantum" leap -- now...`, NormalizeText(in))
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no markup", "plain words", "plain words"},
		{"paragraphs", "<p>First</p><p>Second <b>bold</b></p>", "First Second bold"},
		{"script dropped", "<div>Keep<script>var x = 1;</script></div>", "Keep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlainText(tt.in))
		})
	}
}

func TestCleanArticle(t *testing.T) {
	a := &models.Article{Title: " <h1>AI  news</h1> ", Summary: "<p>Short</p>"}
	CleanArticle(a)
	assert.Equal(t, "AI news", a.Title)
	assert.Equal(t, "Short", a.Summary)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "量子", TruncateRunes("量子计算", 2))
	assert.Equal(t, "abc", TruncateRunes("abc", 5))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestPreview(t *testing.T) {
	short := "One sentence only."
	assert.Equal(t, short, Preview(short, 100))

	text := "The first sentence is here. The second sentence follows it. A third one closes the paragraph."
	got := Preview(text, 60)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.True(t, strings.HasPrefix(got, "The first sentence is here."))
	assert.LessOrEqual(t, utf8.RuneCountInString(strings.TrimSuffix(got, "...")), 60)

	long := strings.Repeat("字", 30)
	assert.Equal(t, strings.Repeat("字", 10)+"...", Preview(long, 10))
}
