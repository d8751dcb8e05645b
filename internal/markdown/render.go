package markdown

import (
	"bytes"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
)

var converter = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(htmlrenderer.WithHardWraps()),
)

// ToHTML converts Markdown text to HTML using a common configuration.
func ToHTML(source []byte) ([]byte, error) {
	var buffer bytes.Buffer
	_ = converter.Convert(source, &buffer)
	return buffer.Bytes(), nil
}

// RenderPage converts Markdown text and wraps it in a complete HTML
// document. Head fragments are emitted verbatim inside the document head,
// which lets callers attach scripts or styles to the rendered page.
func RenderPage(title string, source []byte, headFragments ...string) ([]byte, error) {
	body, renderErr := ToHTML(source)
	if renderErr != nil {
		return nil, renderErr
	}

	var builder strings.Builder
	builder.WriteString("<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\"><title>")
	builder.WriteString(html.EscapeString(title))
	builder.WriteString("</title>")
	for _, fragment := range headFragments {
		builder.WriteString(fragment)
	}
	builder.WriteString("</head><body>")
	builder.Write(body)
	builder.WriteString("</body></html>")
	return []byte(builder.String()), nil
}
