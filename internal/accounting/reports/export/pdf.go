package export

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"slices"
	"time"

	"github.com/odyssey-erp/ledger/internal/accounting/reports"
)

// ErrRendererUnavailable indicates no PDF renderer was configured.
var ErrRendererUnavailable = errors.New("export: pdf renderer unavailable")

// HTMLRenderer converts an HTML document into PDF bytes.
type HTMLRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// PDFExporter renders tables through an HTML renderer such as Gotenberg.
type PDFExporter struct {
	Renderer HTMLRenderer
}

type pdfView struct {
	Title       string
	Subtitle    string
	GeneratedAt string
	Columns     []reports.Column
	Rows        []reports.Row
	Summary     []reports.Row
}

var pdfTemplate = template.Must(template.New("statement").Funcs(template.FuncMap{
	"align": func(cols []reports.Column, idx int) string {
		if idx >= len(cols) {
			return "text"
		}
		switch cols[idx].Alignment {
		case reports.AlignRight:
			return "num"
		case reports.AlignCenter:
			return "center"
		default:
			return "text"
		}
	},
}).Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><style>
body{font-family:sans-serif;margin:24px;font-size:12px}
h1{font-size:18px;margin-bottom:2px}
p.sub{color:#555;margin-top:0}
table{width:100%;border-collapse:collapse}
th,td{border-bottom:1px solid #ddd;padding:4px 6px}
th{background:#f5f5f5;text-align:left}
td.num{text-align:right;font-variant-numeric:tabular-nums}
td.center{text-align:center}
td.name{white-space:pre}
tr.section td{font-weight:bold;background:#fafafa}
tr.total td{font-weight:bold;border-top:2px solid #333}
</style></head><body>
<h1>{{.Title}}</h1>
<p class="sub">{{.Subtitle}}{{if .GeneratedAt}} &middot; generated {{.GeneratedAt}}{{end}}</p>
<table>
<thead><tr>{{range .Columns}}<th>{{.Label}}</th>{{end}}</tr></thead>
<tbody>
{{- $cols := .Columns}}
{{- range .Rows}}
<tr class="{{.Kind}}">{{range $i, $cell := .Cells}}<td class="{{if eq $i 1}}name{{else}}{{align $cols $i}}{{end}}">{{$cell}}</td>{{end}}</tr>
{{- end}}
{{- range .Summary}}
<tr class="total">{{range $i, $cell := .Cells}}<td class="{{align $cols $i}}">{{$cell}}</td>{{end}}</tr>
{{- end}}
</tbody></table>
</body></html>`))

// BuildHTML renders the printable document for a table.
func BuildHTML(table reports.Table, generatedAt time.Time) (string, error) {
	view := pdfView{
		Title:    table.Title(),
		Subtitle: table.Subtitle(),
		Columns:  table.Columns(),
		Rows:     slices.Collect(table.Rows()),
		Summary:  table.Summary(),
	}
	if !generatedAt.IsZero() {
		view.GeneratedAt = generatedAt.UTC().Format("2006-01-02 15:04 MST")
	}
	var buf bytes.Buffer
	if err := pdfTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render produces PDF bytes for a table.
func (p *PDFExporter) Render(ctx context.Context, table reports.Table, generatedAt time.Time) ([]byte, error) {
	if p == nil || p.Renderer == nil {
		return nil, ErrRendererUnavailable
	}
	html, err := BuildHTML(table, generatedAt)
	if err != nil {
		return nil, err
	}
	return p.Renderer.RenderHTML(ctx, html)
}
