package presenter

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/ternarybob/scrapetrack/internal/artifacts"
	"github.com/ternarybob/scrapetrack/internal/models"
)

// newMarkdown returns the goldmark configuration shared by HTML and PDF output
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Linkify),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
}

// Markdown builds a Markdown summary of a job
func Markdown(snap models.Snapshot, resolver *artifacts.Resolver) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Scrape of %s\n\n", escapeInline(snap.Target))
	fmt.Fprintf(&b, "**Status:** %s\n\n", escapeInline(snap.Description))
	if snap.Error != "" {
		fmt.Fprintf(&b, "**Error:** %s\n\n", escapeInline(snap.Error))
	}

	if snap.HasResult() {
		b.WriteString("## Result\n\n")
		var nested []Field
		var scalars []Field
		for _, field := range ResultFields(snap.Result) {
			if field.Nested {
				nested = append(nested, field)
			} else {
				scalars = append(scalars, field)
			}
		}
		if len(scalars) > 0 {
			b.WriteString("| Field | Value |\n|-------|-------|\n")
			for _, field := range scalars {
				fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(field.Label), escapeCell(field.Value))
			}
			b.WriteString("\n")
		}
		for _, field := range nested {
			fmt.Fprintf(&b, "### %s\n\n```json\n%s\n```\n\n", escapeInline(field.Label), field.Value)
		}
	}

	if len(snap.Screenshots) > 0 && resolver != nil {
		b.WriteString("## Screenshots\n\n")
		for _, shot := range resolver.Screenshots(snap.Screenshots) {
			fmt.Fprintf(&b, "- %s: <%s>\n", escapeInline(FieldLabel(shot.Label)), shot.URL)
		}
		b.WriteString("\n")
	}

	if snap.HasReport() {
		report := snap.ReportHandle
		if resolver != nil {
			if resolved, err := resolver.ReportURL(report); err == nil {
				report = resolved
			}
		}
		fmt.Fprintf(&b, "## Report\n\n<%s>\n\n", report)
	}

	if len(snap.LogLines) > 0 {
		b.WriteString("## Log\n\n```\n")
		for _, line := range snap.LogLines {
			b.WriteString(strings.ReplaceAll(line, "```", "'''"))
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}

	return b.String()
}

// HTML renders the Markdown summary as a standalone HTML document
func HTML(snap models.Snapshot, resolver *artifacts.Resolver) ([]byte, error) {
	var body bytes.Buffer
	if err := newMarkdown().Convert([]byte(Markdown(snap, resolver)), &body); err != nil {
		return nil, fmt.Errorf("failed to render summary: %w", err)
	}

	var doc bytes.Buffer
	doc.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&doc, "<title>Scrape of %s</title>\n", html.EscapeString(snap.Target))
	doc.WriteString("<style>body{font-family:sans-serif;max-width:960px;margin:2em auto}" +
		"table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:4px 8px}" +
		"pre{background:#f5f5f5;padding:8px;overflow-x:auto}</style>\n")
	doc.WriteString("</head>\n<body>\n")
	doc.Write(body.Bytes())
	doc.WriteString("</body>\n</html>\n")
	return doc.Bytes(), nil
}

var inlineEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", `\<`, "#", `\#`,
)

func escapeInline(s string) string {
	return inlineEscaper.Replace(strings.ReplaceAll(s, "\n", " "))
}

func escapeCell(s string) string {
	return strings.ReplaceAll(escapeInline(s), "|", `\|`)
}
