package presenter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark/ast"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ternarybob/scrapetrack/internal/artifacts"
	"github.com/ternarybob/scrapetrack/internal/common"
	"github.com/ternarybob/scrapetrack/internal/models"
)

const (
	pdfFont      = "Arial"
	pdfFontSize  = 9.0
	pdfLineH     = 5.0
	pdfPageWidth = 190.0
)

// PDF renders the Markdown summary of a job as an A4 document
func PDF(snap models.Snapshot, resolver *artifacts.Resolver, logger arbor.ILogger) ([]byte, error) {
	if logger == nil {
		logger = common.GetLogger()
	}

	source := []byte(Markdown(snap, resolver))
	doc := newMarkdown().Parser().Parse(text.NewReader(source))

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.SetTitle("Scrape of "+snap.Target, true)
	pdf.AddPage()
	pdf.SetFont(pdfFont, "", pdfFontSize)

	r := &pdfRenderer{
		pdf:       pdf,
		source:    source,
		translate: pdf.UnicodeTranslatorFromDescriptor(""),
	}
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, fmt.Errorf("failed to render summary pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write summary pdf: %w", err)
	}

	logger.Debug().Str("job_id", snap.JobID).Int("pdf_size", buf.Len()).Msg("Summary PDF generated")
	return buf.Bytes(), nil
}

// pdfRenderer walks the summary's Markdown AST. It only handles the node
// kinds Markdown produces.
type pdfRenderer struct {
	pdf       *fpdf.Fpdf
	source    []byte
	translate func(string) string
	bold      bool
	italic    bool
	listLevel int
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		r.heading(node, entering)
	case *ast.Paragraph:
		if !entering {
			r.pdf.Ln(pdfLineH + 2)
		}
	case *ast.Text:
		if entering {
			r.write(string(node.Segment.Value(r.source)))
			if node.SoftLineBreak() || node.HardLineBreak() {
				r.pdf.Ln(pdfLineH)
			}
		}
	case *ast.String:
		if entering {
			r.write(string(node.Value))
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.restoreFont()
	case *ast.AutoLink:
		if entering {
			r.pdf.SetTextColor(0, 0, 180)
			r.write(string(node.URL(r.source)))
			r.pdf.SetTextColor(0, 0, 0)
		}
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock:
		if entering {
			r.codeBlock(node.Lines())
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			r.listLevel++
		} else {
			r.listLevel--
			r.pdf.Ln(2)
		}
	case *ast.ListItem:
		if entering {
			r.pdf.Ln(pdfLineH)
			r.pdf.SetX(12 + float64(r.listLevel)*5)
			r.write("- ")
		}
	case *extast.Table:
		if entering {
			r.table(node)
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) write(s string) {
	r.pdf.Write(pdfLineH, r.translate(s))
}

func (r *pdfRenderer) restoreFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(pdfFont, style, pdfFontSize)
}

func (r *pdfRenderer) heading(n *ast.Heading, entering bool) {
	if !entering {
		r.pdf.Ln(pdfLineH + 1)
		r.restoreFont()
		return
	}
	size := 10.0
	switch n.Level {
	case 1:
		size = 14
	case 2:
		size = 12
	case 3:
		size = 11
	}
	r.pdf.Ln(3)
	r.pdf.SetFont(pdfFont, "B", size)
}

func (r *pdfRenderer) codeBlock(lines *text.Segments) {
	r.pdf.SetFont("Courier", "", 8)
	r.pdf.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		txt := strings.TrimRight(string(line.Value(r.source)), "\n")
		r.pdf.MultiCell(0, 4, r.translate(txt), "", "L", true)
	}
	r.pdf.SetFillColor(255, 255, 255)
	r.pdf.Ln(2)
	r.restoreFont()
}

// table renders a two column field table with wrapped values
func (r *pdfRenderer) table(n *extast.Table) {
	var rows [][]string
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		var cells []string
		for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, r.translate(cellText(cell, r.source)))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	cols := len(rows[0])
	widths := make([]float64, cols)
	r.pdf.SetFont(pdfFont, "B", 8)
	for _, row := range rows {
		for j := 0; j < cols && j < len(row); j++ {
			if w := r.pdf.GetStringWidth(row[j]) + 4; w > widths[j] {
				widths[j] = w
			}
		}
	}
	// The last column takes whatever the others leave
	used := 0.0
	for j := 0; j < cols-1; j++ {
		if widths[j] > pdfPageWidth/3 {
			widths[j] = pdfPageWidth / 3
		}
		used += widths[j]
	}
	widths[cols-1] = pdfPageWidth - used

	for i, row := range rows {
		style, fill := "", false
		if i == 0 {
			style, fill = "B", true
			r.pdf.SetFillColor(230, 230, 230)
		}
		r.pdf.SetFont(pdfFont, style, 8)

		x, y := r.pdf.GetX(), r.pdf.GetY()
		height := 0.0
		for j := 0; j < cols; j++ {
			value := ""
			if j < len(row) {
				value = row[j]
			}
			r.pdf.SetXY(x, y)
			for k := 0; k < j; k++ {
				r.pdf.SetX(r.pdf.GetX() + widths[k])
			}
			r.pdf.MultiCell(widths[j], 4, value, "1", "L", fill)
			if h := r.pdf.GetY() - y; h > height {
				height = h
			}
		}
		r.pdf.SetXY(x, y+height)
	}

	r.pdf.SetFillColor(255, 255, 255)
	r.pdf.Ln(3)
	r.restoreFont()
}

func cellText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch typed := child.(type) {
		case *ast.Text:
			b.Write(typed.Segment.Value(source))
		case *ast.String:
			b.Write(typed.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
