// Package export writes a user's assessment history in several formats.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"slices"
	"strings"

	"bienestar/internal/models"

	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"
)

// Format is an export format
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatXLSX Format = "xlsx"
	FormatHTML Format = "html"
)

// Formats lists the supported formats
var Formats = []Format{FormatJSON, FormatYAML, FormatXLSX, FormatHTML}

// ParseFormat accepts a format name, case-insensitive ("yml" is an alias of yaml)
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "yml" {
		f = FormatYAML
	}
	if !slices.Contains(Formats, f) {
		return "", fmt.Errorf("unsupported export format %q (use json, yaml, xlsx or html)", s)
	}
	return f, nil
}

// Write renders records to w
func Write(w io.Writer, format Format, records []models.AssessmentRecord) error {
	if records == nil {
		records = []models.AssessmentRecord{}
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatXLSX:
		return writeXLSX(w, records)
	case FormatHTML:
		return writeHTML(w, records)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

const sheetName = "Historial"

// dimensions returns every profile dimension, sorted, so each gets a column
func dimensions(records []models.AssessmentRecord) []string {
	seen := map[string]bool{}
	var dims []string
	for _, rec := range records {
		for name := range rec.Data.EmotionalProfile {
			if !seen[name] {
				seen[name] = true
				dims = append(dims, name)
			}
		}
	}
	slices.Sort(dims)
	return dims
}

func writeXLSX(w io.Writer, records []models.AssessmentRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	dims := dimensions(records)
	header := []any{"id", "timestamp", "feedback", "priorityAreas"}
	for _, d := range dims {
		header = append(header, d)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, rec := range records {
		row := []any{rec.ID, rec.Timestamp, rec.Data.Feedback, strings.Join(rec.Data.PriorityAreas, ", ")}
		for _, d := range dims {
			if score, ok := rec.Data.EmotionalProfile[d]; ok {
				row = append(row, score)
			} else {
				row = append(row, nil)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

type htmlRecord struct {
	models.AssessmentRecord
	Dimensions []string
	Feedback   template.HTML
}

var page = template.Must(template.New("history").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Historial de evaluaciones</title>
    <style>
        body { font-family: 'Segoe UI', Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 0 auto; padding: 40px 20px; color: #333; }
        h2 { color: #2c3e50; margin-bottom: 4px; }
        table { border-collapse: collapse; margin: 12px 0; }
        th, td { border: 1px solid #ddd; padding: 6px 12px; text-align: left; }
        .areas { color: #777; }
    </style>
</head>
<body>
    <h1>Historial de evaluaciones</h1>
{{- if not . }}
    <p>No hay evaluaciones.</p>
{{- end }}
{{- range . }}
    <section id="{{ .ID }}">
        <h2>{{ .Timestamp }}</h2>
        {{- if .Data.PriorityAreas }}
        <p class="areas">{{ range $i, $a := .Data.PriorityAreas }}{{ if $i }}, {{ end }}{{ $a }}{{ end }}</p>
        {{- end }}
        {{- if .Dimensions }}
        <table>
            {{- $profile := .Data.EmotionalProfile }}
            {{- range .Dimensions }}
            <tr><th>{{ . }}</th><td>{{ index $profile . }}</td></tr>
            {{- end }}
        </table>
        {{- end }}
        {{ .Feedback }}
    </section>
{{- end }}
</body>
</html>
`))

func writeHTML(w io.Writer, records []models.AssessmentRecord) error {
	items := make([]htmlRecord, 0, len(records))
	for _, rec := range records {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(rec.Data.Feedback), &buf); err != nil {
			return fmt.Errorf("failed to render feedback for %s: %w", rec.ID, err)
		}
		dims := make([]string, 0, len(rec.Data.EmotionalProfile))
		for name := range rec.Data.EmotionalProfile {
			dims = append(dims, name)
		}
		slices.Sort(dims)

		items = append(items, htmlRecord{
			AssessmentRecord: rec,
			Dimensions:       dims,
			// goldmark escapes raw HTML unless WithUnsafe is set
			Feedback: template.HTML(buf.String()),
		})
	}
	return page.Execute(w, items)
}
