// Package pdfops handles PDF text extraction, sanitization, and page-range
// slicing for jokbo and lesson source files. Chunk math (splitting a page
// count into task-sized ranges) lives in the model package, since both the
// orchestrator and the disk-resume path need it without importing a PDF
// library.
package pdfops

import (
	"bytes"
	"fmt"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/jokbolink/orchestrator/model"
)

// Extractor extracts text from PDF bytes using ledongthuc/pdf.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// sanitize truncates trailing garbage appended after the PDF's last %%EOF
// marker -- common with PDFs re-saved or re-hosted by third-party sites.
func sanitize(content []byte) []byte {
	if len(content) == 0 || !bytes.HasPrefix(content, []byte("%PDF-")) {
		return content
	}

	eofMarker := []byte("%%EOF")
	lastEOF := bytes.LastIndex(content, eofMarker)
	if lastEOF == -1 {
		return content
	}

	pdfEnd := lastEOF + len(eofMarker)
	for pdfEnd < len(content) && (content[pdfEnd] == '\n' || content[pdfEnd] == '\r') {
		pdfEnd++
	}

	if extra := len(content) - pdfEnd; extra > 10 {
		log.Printf("pdfops: trimming %d bytes of trailing garbage after %%EOF", extra)
		return content[:pdfEnd]
	}
	return content
}

func openReader(content []byte) (*pdf.Reader, []byte, error) {
	if len(content) == 0 {
		return nil, nil, fmt.Errorf("empty PDF content")
	}
	content = sanitize(content)
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse PDF: %w", err)
	}
	return reader, content, nil
}

// PageCount returns the total number of pages in a PDF.
func (e *Extractor) PageCount(content []byte) (int, error) {
	reader, _, err := openReader(content)
	if err != nil {
		return 0, err
	}
	n := reader.NumPage()
	if n == 0 {
		return 0, fmt.Errorf("PDF has no pages")
	}
	return n, nil
}

func extractPageText(reader *pdf.Reader, page int) string {
	p := reader.Page(page)
	if p.V.IsNull() {
		return ""
	}

	var b strings.Builder
	rows, err := p.GetTextByRow()
	if err != nil {
		text, plainErr := p.GetPlainText(nil)
		if plainErr != nil {
			return ""
		}
		return text
	}

	for _, row := range rows {
		var rowText strings.Builder
		for _, word := range row.Content {
			rowText.WriteString(word.S)
		}
		if line := strings.TrimSpace(rowText.String()); line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ExtractRange extracts text for a single, 1-indexed inclusive page range.
// Text for each page is prefixed with a page marker so downstream prompts
// and the response parser can anchor model output back to absolute page
// numbers within the full document, not just the chunk.
func (e *Extractor) ExtractRange(content []byte, r model.PageRange) (string, error) {
	reader, _, err := openReader(content)
	if err != nil {
		return "", err
	}

	numPages := reader.NumPage()
	start, end := r.Start, r.End
	if start < 1 {
		start = 1
	}
	if end > numPages {
		end = numPages
	}
	if start > end {
		return "", fmt.Errorf("invalid page range: start=%d end=%d (document has %d pages)", r.Start, r.End, numPages)
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		text := extractPageText(reader, i)
		b.WriteString(fmt.Sprintf("--- page %d ---\n", i))
		if text == "" {
			b.WriteString("[no extractable text]\n")
			continue
		}
		b.WriteString(text)
	}

	extracted := strings.TrimSpace(b.String())
	return extracted, nil
}

// ExtractAll extracts text for the whole document, calling ExtractRange
// internally so both paths share one page-reading implementation.
func (e *Extractor) ExtractAll(content []byte) (string, error) {
	n, err := e.PageCount(content)
	if err != nil {
		return "", err
	}
	return e.ExtractRange(content, model.PageRange{Start: 1, End: n})
}
