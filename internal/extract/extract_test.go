package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/crawldex/crawldex/internal/errors"
)

func writeFile(t *testing.T, name string, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>  Admissions &amp; Fees </title>
  <style>body { color: red }</style>
</head>
<body>
  <header><a href="/">Home</a> | <a href="/about">About</a></header>
  <nav><ul><li>Menu item</li></ul></nav>
  <main>
    <h1>Undergraduate   Admissions</h1>
    <p>Applications close on<br>31 March.</p>
    <!-- tracking pixel -->
    <script>var x = "<p>not text</p>";</script>
  </main>
  <aside>Related links</aside>
  <footer>Copyright 2024</footer>
</body>
</html>`

func TestExtract_HTML_StripsBoilerplate(t *testing.T) {
	// Given: a page with navigation chrome and scripts
	path := writeFile(t, "page.html", samplePage)

	// When: extracting
	res, err := New().Extract(context.Background(), path)

	// Then: only the main text remains, whitespace collapsed
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, res.Format)
	assert.Equal(t, "Admissions & Fees", res.Title)
	assert.Equal(t, "Undergraduate Admissions Applications close on 31 March.", res.Content)
}

func TestExtract_HTML_MetaTitleFallback(t *testing.T) {
	path := writeFile(t, "page.htm", `<html><head>
<meta charset="utf-8">
<meta property='og:title' content="Library Hours">
</head><body><p>Open daily.</p></body></html>`)

	res, err := New().Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, "Library Hours", res.Title)
	assert.Equal(t, "Open daily.", res.Content)
}

func TestExtract_HTML_NoTitle(t *testing.T) {
	path := writeFile(t, "bare.html", `<p>Just text</p>`)

	res, err := New().Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Empty(t, res.Title)
	assert.Equal(t, "Just text", res.Content)
}

func TestExtract_HTML_QuotedAngleBracketInAttribute(t *testing.T) {
	// Given: an attribute value containing '>'
	path := writeFile(t, "link.html", `<p>Hello <a title="a > b" href="/x">world</a></p>`)

	// When: extracting
	res, err := New().Extract(context.Background(), path)

	// Then: no attribute text leaks into the content
	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Content)
}

func TestExtract_HTML_NestedBoilerplate(t *testing.T) {
	// Given: navigation nested inside navigation
	path := writeFile(t, "nested.html", `<body><p>Body text</p><nav>inner <nav>deep</nav> tail</nav><p>After</p></body>`)

	// When: extracting
	res, err := New().Extract(context.Background(), path)

	// Then: the whole outer element is dropped
	require.NoError(t, err)
	assert.Equal(t, "Body text After", res.Content)
}

func TestExtract_SniffsExtensionlessHTML(t *testing.T) {
	// Given: crawler output saved without an extension
	path := writeFile(t, "index", "<!DOCTYPE html><html><head><title>Sniffed</title></head><body><p>Body</p></body></html>")

	res, err := New().Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, FormatHTML, res.Format)
	assert.Equal(t, "Sniffed", res.Title)
}

func TestExtract_Markdown_FirstHeadingIsTitle(t *testing.T) {
	path := writeFile(t, "guide.md", "Intro line\n\n# Student *Guide*\n\nSome **bold**\ntext.\n\n## Second\n\n```\ncode  block\n```\n\n<div>raw</div>\n")

	res, err := New().Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, res.Format)
	assert.Equal(t, "Student Guide", res.Title)
	assert.Equal(t, "Intro line Student Guide Some bold text. Second code block", res.Content)
}

func TestExtract_PlainText(t *testing.T) {
	path := writeFile(t, "notes.txt", "line one\n\n\tline   two\r\n")

	res, err := New().Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, FormatText, res.Format)
	assert.Empty(t, res.Title)
	assert.Equal(t, "line one line two", res.Content)
}

func TestExtract_EmptyFile(t *testing.T) {
	path := writeFile(t, "empty.txt", "")

	res, err := New().Extract(context.Background(), path)

	require.NoError(t, err)
	assert.Empty(t, res.Content)
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		opts []Option
		code string
	}{
		{
			name: "missing",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "gone.html") },
			code: cerrors.ErrCodeFileNotFound,
		},
		{
			name: "binary",
			path: func(t *testing.T) string { return writeFile(t, "image.png", "\x89PNG\r\n\x1a\n\x00\x00\x00") },
			code: cerrors.ErrCodeUnsupportedType,
		},
		{
			name: "too large",
			path: func(t *testing.T) string { return writeFile(t, "big.txt", strings.Repeat("a", 100)) },
			opts: []Option{WithMaxFileSize(10)},
			code: cerrors.ErrCodeFileTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...).Extract(context.Background(), tt.path(t))

			require.Error(t, err)
			assert.Equal(t, tt.code, cerrors.GetCode(err))
		})
	}
}

func TestExtract_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Extract(ctx, writeFile(t, "a.txt", "x"))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollapseSpace(t *testing.T) {
	assert.Equal(t, "a b c", collapseSpace(" a\n\n b\t\v\fc  "))
	assert.Empty(t, collapseSpace(" \n "))
}
