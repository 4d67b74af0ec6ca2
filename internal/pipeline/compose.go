package pipeline

import (
	"bytes"
	"html/template"
	"time"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"

	"mark2pdf/internal/domain"
)

// Mode selects the document flavour.
type Mode int

const (
	// ModeStatic is fed to the headless renderer: no visible controls, no scripts.
	ModeStatic Mode = iota
	// ModeInteractive is opened by the user's browser, which prints it to PDF.
	ModeInteractive
)

// DefaultPrintDelay is how long the interactive document waits before opening
// the print dialog.
const DefaultPrintDelay = 1500 * time.Millisecond

var highlightCSS = template.CSS(buildHighlightCSS())

func buildHighlightCSS() string {
	var buf bytes.Buffer
	f := html.New(html.WithClasses(true))
	if err := f.WriteCSS(&buf, styles.Get(highlightStyle)); err != nil {
		return ""
	}
	return buf.String()
}

var documentTmpl = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Document</title>
<style>
{{- if .Interactive}}
@page { size: {{.PageSize}} {{.Orientation}}; margin: {{.MarginPx}}px; }
@media print {
  body { margin: 0; padding: 0; }
  .no-print { display: none; }
}
{{- end}}
body {
  font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', 'Roboto', 'Helvetica Neue', Arial, sans-serif;
  line-height: 1.6;
  color: #333;
  max-width: 800px;
  margin: 0 auto;
  padding: {{if .Interactive}}40px 20px{{else}}0{{end}};
  background: white;
}
h1, h2, h3, h4, h5, h6 { color: #2c3e50; margin-top: 32px; margin-bottom: 16px; font-weight: 600; line-height: 1.25; }
h1 { font-size: 2.5em; border-bottom: 2px solid #eee; padding-bottom: 10px; }
h2 { font-size: 2em; border-bottom: 1px solid #eee; padding-bottom: 8px; }
h3 { font-size: 1.5em; }
h4 { font-size: 1.25em; }
h5 { font-size: 1em; }
h6 { font-size: 0.875em; color: #6a737d; }
p { margin-bottom: 16px; }
code {
  background-color: #f6f8fa;
  padding: 2px 6px;
  border-radius: 4px;
  font-family: 'Monaco', 'Consolas', monospace;
  font-size: 0.9em;
}
pre {
  background-color: #f6f8fa;
  padding: 20px;
  border-radius: 8px;
  overflow-x: auto;
  margin: 16px 0;
  border: 1px solid #e1e4e8;
  white-space: pre-wrap;
}
pre code { background: none; padding: 0; border-radius: 0; }
a { color: #0366d6; text-decoration: none; }
a:hover { text-decoration: underline; }
strong { font-weight: 600; }
em { font-style: italic; }
blockquote { margin: 16px 0; padding: 0 16px; color: #6a737d; border-left: 4px solid #dfe2e5; }
table { border-collapse: collapse; margin: 16px 0; width: auto; }
th, td { border: 1px solid #dfe2e5; padding: 6px 13px; }
th { background-color: #f6f8fa; font-weight: 600; }
tr:nth-child(2n) { background-color: #fbfcfd; }
img { max-width: 100%; }
hr { border: 0; border-top: 1px solid #eee; margin: 24px 0; }
{{.HighlightCSS}}
{{- if .Interactive}}
.print-button {
  position: fixed;
  top: 20px;
  right: 20px;
  background: #0366d6;
  color: white;
  border: none;
  padding: 12px 24px;
  border-radius: 6px;
  cursor: pointer;
  font-size: 14px;
  font-weight: 600;
  box-shadow: 0 2px 4px rgba(0,0,0,0.1);
}
.print-button:hover { background: #0256cc; }
{{- end}}
</style>
</head>
<body>
{{- if .Interactive}}
<button class="print-button no-print" onclick="window.print()">Save as PDF</button>
{{- end}}
{{.Fragment}}
{{- if .Interactive}}
<script>
setTimeout(function() { window.print(); }, {{.PrintDelayMs}});
</script>
{{- end}}
</body>
</html>
`))

type documentData struct {
	Interactive  bool
	PageSize     string
	Orientation  string
	MarginPx     int
	PrintDelayMs int64
	HighlightCSS template.CSS
	Fragment     template.HTML
}

// Composer wraps HTML fragments in complete, styled documents.
type Composer struct {
	PrintDelay time.Duration
}

// Compose builds a full HTML document around fragment using the default print delay.
func Compose(fragment string, mode Mode, opts domain.ConversionOptions) string {
	return Composer{PrintDelay: DefaultPrintDelay}.Compose(fragment, mode, opts)
}

// Compose builds a full HTML document around fragment. The fragment must
// already be sanitized; it is embedded verbatim.
func (c Composer) Compose(fragment string, mode Mode, opts domain.ConversionOptions) string {
	data := documentData{
		Interactive:  mode == ModeInteractive,
		PageSize:     string(opts.PageSize),
		Orientation:  string(opts.Orientation),
		MarginPx:     opts.MarginPx,
		PrintDelayMs: c.PrintDelay.Milliseconds(),
		HighlightCSS: highlightCSS,
		Fragment:     template.HTML(fragment), //nolint:gosec // sanitized by ToHTML
	}
	if data.PageSize == "" {
		data.PageSize = string(domain.PageSizeA4)
	}
	if data.Orientation == "" {
		data.Orientation = string(domain.OrientationPortrait)
	}

	var buf bytes.Buffer
	if err := documentTmpl.Execute(&buf, data); err != nil {
		// The template is static and the data is typed; execution cannot fail
		// short of a programming error.
		panic(err)
	}
	return buf.String()
}
