package extract

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/web-to-sheets/pkg/config"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

const quotesPage = `<html><body>
<div class="quote">
  <span class="text">  “The world as we have created it.” </span>
  <small class="author">Albert Einstein</small>
  <a href="/author/Albert-Einstein">(about)</a>
  <div class="tags">
    <a class="tag" href="/tag/change">change</a>
    <a class="tag" href="/tag/deep"> </a>
    <a class="tag" href="/tag/thoughts">thoughts</a>
  </div>
</div>
<div class="quote">
  <span class="text">“It is our choices.”</span>
  <small class="author">J.K. Rowling</small>
  <a>(about)</a>
</div>
<div class="quote"><p>no fields here</p></div>
</body></html>`

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func selectors(fields ...config.FieldSelector) config.Selectors {
	return config.Selectors{Item: ".quote", Fields: fields}
}

func TestExtract_TextFields(t *testing.T) {
	e, err := New(selectors(
		config.FieldSelector{Name: "text", Expr: ".text"},
		config.FieldSelector{Name: "author", Expr: ".author"},
	), testLogger())
	require.NoError(t, err)

	records, err := e.ExtractBody([]byte(quotesPage))
	require.NoError(t, err)
	require.Len(t, records, 2, "container without matches yields no record")

	assert.Equal(t, []string{"text", "author"}, records[0].Keys())
	assert.Equal(t, "“The world as we have created it.”", records[0].Value("text"))
	assert.Equal(t, "Albert Einstein", records[0].Value("author"))
	assert.Equal(t, "“It is our choices.”", records[1].Value("text"))
	assert.Equal(t, "J.K. Rowling", records[1].Value("author"))
}

func TestExtract_TextList(t *testing.T) {
	e, err := New(selectors(config.FieldSelector{Name: "tags", Expr: ".tag::textlist"}), testLogger())
	require.NoError(t, err)

	records, err := e.ExtractBody([]byte(quotesPage))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "change, thoughts", records[0].Value("tags"), "empty texts are skipped")
}

func TestExtract_AttrModifier(t *testing.T) {
	e, err := New(selectors(
		config.FieldSelector{Name: "author", Expr: ".author"},
		config.FieldSelector{Name: "link", Expr: ".author + a::attr(href)"},
	), testLogger())
	require.NoError(t, err)

	records, err := e.ExtractBody([]byte(quotesPage))
	require.NoError(t, err)
	require.Len(t, records, 2)

	link, ok := records[0].Get("link")
	assert.True(t, ok)
	assert.Equal(t, "/author/Albert-Einstein", link)

	_, ok = records[1].Get("link")
	assert.False(t, ok, "missing attribute omits the field")
	assert.Equal(t, []string{"author"}, records[1].Keys())
}

func TestExtract_NoContainers(t *testing.T) {
	e, err := New(config.Selectors{Item: ".missing", Fields: []config.FieldSelector{{Name: "x", Expr: ".x"}}}, testLogger())
	require.NoError(t, err)

	records, err := e.ExtractBody([]byte(quotesPage))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNew_InvalidSelectors(t *testing.T) {
	tests := []struct {
		name string
		sel  config.Selectors
	}{
		{"bad item", config.Selectors{Item: "div[", Fields: []config.FieldSelector{{Name: "a", Expr: ".a"}}}},
		{"bad field", selectors(config.FieldSelector{Name: "a", Expr: "p[x"})},
		{"unknown modifier", selectors(config.FieldSelector{Name: "a", Expr: ".a::html"})},
		{"empty attr", selectors(config.FieldSelector{Name: "a", Expr: ".a::attr()"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.sel, testLogger())
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
		})
	}
}
