package web

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMarkdown_HighlightsFencedCode(t *testing.T) {
	fake := &fakeHighlighter{}
	out, err := renderMarkdown(context.Background(), fake, "```go\nfunc main() {}\n```", "dracula")
	require.NoError(t, err)

	assert.Contains(t, out, `data-lang="go"`)
	assert.Contains(t, out, `data-theme="dracula"`)
	assert.NotContains(t, out, `<code class="language-go">`)
	assert.Equal(t, []highlightCall{{"func main() {}\n", "go", "dracula"}}, fake.Calls())
}

func TestRenderMarkdown_CodeBlockWithoutLanguage(t *testing.T) {
	fake := &fakeHighlighter{}
	out, err := renderMarkdown(context.Background(), fake, "```\nhello world\n```\n\n    indented\n", "")
	require.NoError(t, err)

	assert.Contains(t, out, "hello world")
	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "", calls[0].language)
	assert.Equal(t, "indented\n", calls[1].code)
}

func TestRenderMarkdown_InlineCodeUnchanged(t *testing.T) {
	fake := &fakeHighlighter{}
	out, err := renderMarkdown(context.Background(), fake, "Use `foo()` here", "")
	require.NoError(t, err)

	assert.Contains(t, out, "<code>foo()</code>")
	assert.Empty(t, fake.Calls())
}

func TestRenderMarkdown_GFMAndRawHTML(t *testing.T) {
	src := "| a | b |\n|---|---|\n| 1 | 2 |\n\n~~gone~~\n\n<script>alert(1)</script>\n"
	out, err := renderMarkdown(context.Background(), &fakeHighlighter{}, src, "")
	require.NoError(t, err)

	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<del>gone</del>")
	assert.NotContains(t, out, "<script>")
}

func TestMarkdownEndpoint(t *testing.T) {
	srv, fake := newTestServer(t, Config{})

	rr := serve(srv, http.MethodPost, "/api/markdown", `{"markdown":"# Title\n\n`+"```py\\nprint(1)\\n```"+`","theme":"github"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp["html"], "<h1>Title</h1>")
	assert.Contains(t, resp["html"], `data-lang="py"`)
	assert.Equal(t, []highlightCall{{"print(1)\n", "py", "github"}}, fake.Calls())

	rr = serve(srv, http.MethodPost, "/api/markdown", "not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(srv, http.MethodGet, "/api/markdown", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
