package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
)

// codeHighlighter is a goldmark extension that renders fenced code blocks
// through the highlight service.
type codeHighlighter struct {
	ctx   context.Context
	svc   Highlighter
	theme string
}

func (c *codeHighlighter) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&codeBlockRenderer{codeHighlighter: c}, 100),
	))
}

type codeBlockRenderer struct {
	*codeHighlighter
}

func (r *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
	reg.Register(ast.KindCodeBlock, r.renderCodeBlock)
}

func (r *codeBlockRenderer) renderFencedCodeBlock(
	w util.BufWriter, source []byte, node ast.Node, entering bool,
) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	r.write(w, blockText(n, source), string(n.Language(source)))
	return ast.WalkContinue, nil
}

// renderCodeBlock handles indented blocks, which carry no language.
func (r *codeBlockRenderer) renderCodeBlock(
	w util.BufWriter, source []byte, node ast.Node, entering bool,
) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	r.write(w, blockText(node, source), "")
	return ast.WalkContinue, nil
}

func (r *codeBlockRenderer) write(w util.BufWriter, code, lang string) {
	_, _ = w.WriteString(r.svc.Highlight(r.ctx, code, lang, r.theme))
	_, _ = w.WriteString("\n")
}

func blockText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(source))
	}
	return buf.String()
}

// renderMarkdown renders GFM markdown with highlighted code blocks. Raw HTML
// in the source is dropped.
func renderMarkdown(ctx context.Context, svc Highlighter, source, theme string) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			&codeHighlighter{ctx: ctx, svc: svc, theme: theme},
		),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// handleMarkdown renders a markdown document. POST /api/markdown:
//
//	{"markdown": "# Title\n```go\n...\n```", "theme": "dracula"}
func (s *Server) handleMarkdown(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodPost) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req struct {
		Markdown string `json:"markdown"`
		Theme    string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON")
		return
	}

	out, err := renderMarkdown(r.Context(), s.svc, req.Markdown, req.Theme)
	if err != nil {
		s.log.Warn("markdown_render_failed", slog.String("error", err.Error()))
		writeAPIError(w, http.StatusUnprocessableEntity, "RENDER_FAILED", "markdown could not be rendered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"html": out})
}
