// Package loader extracts raw text from document sources: local files,
// URLs or in-memory buffers, in PDF, DOCX, PPTX, XLSX, Markdown or plain
// text format.
package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"document-qa/internal/models"
)

const fetchTimeout = 30 * time.Second

// ExtractFile reads a local file and extracts its text.
func ExtractFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return ExtractBuffer(data, path)
}

// ExtractURL fetches a document over HTTP and extracts its text. maxSize
// bounds the downloaded payload.
func ExtractURL(ctx context.Context, url string, maxSize int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching document: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return "", fmt.Errorf("reading document body: %w", err)
	}
	if int64(len(data)) > maxSize {
		return "", fmt.Errorf("%w: document exceeds %d bytes", models.ErrInvalidInput, maxSize)
	}

	log.Debug().Str("url", url).Int("bytes", len(data)).Msg("Fetched document")
	return ExtractBuffer(data, req.URL.Path)
}

// ExtractBuffer extracts text from an in-memory document. The filename's
// extension selects the format; without a usable extension the content is
// sniffed.
func ExtractBuffer(data []byte, filename string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		return extractPDF(data)
	case ".docx":
		return extractDOCX(data)
	case ".pptx":
		return extractPPTX(data)
	case ".xlsx", ".ods":
		return extractSheet(data)
	case ".md", ".markdown":
		return extractMarkdown(data)
	case ".txt", ".text":
		return strings.TrimSpace(string(data)), nil
	default:
		return extractSniffed(data)
	}
}

// extractSniffed falls back on magic bytes: PDF header, then zip (assumed
// DOCX), then plain text.
func extractSniffed(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return extractPDF(data)
	case bytes.HasPrefix(data, []byte("PK")):
		return extractDOCX(data)
	case isPlainText(data):
		return strings.TrimSpace(string(data)), nil
	default:
		return "", models.ErrUnsupportedFormat
	}
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	var text strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			log.Warn().Err(err).Int("page", i).Msg("Skipping unreadable pdf page")
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n")
	}
	return strings.TrimSpace(text.String()), nil
}

func extractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	return strings.TrimSpace(extractXMLRuns(content, "<w:t", "</w:t>")), nil
}

func extractPPTX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pptx: %w", err)
	}

	var text strings.Builder
	for _, file := range zr.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		slide, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		text.WriteString(extractXMLRuns(string(slide), "<a:t", "</a:t>"))
		text.WriteString("\n")
	}
	return strings.TrimSpace(text.String()), nil
}

func extractSheet(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("opening spreadsheet: %w", err)
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
	}
	return strings.TrimSpace(text.String()), nil
}

// extractMarkdown parses the markdown document and concatenates its text
// nodes, so formatting syntax never leaks into chunks.
func extractMarkdown(data []byte) (string, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(gmtext.NewReader(data))

	var text strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && text.Len() > 0 {
				text.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			text.Write(t.Segment.Value(data))
			if t.SoftLineBreak() || t.HardLineBreak() {
				text.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("parsing markdown: %w", err)
	}
	return strings.TrimSpace(text.String()), nil
}

// extractXMLRuns collects the contents of every openTag...closeTag run,
// tolerating attributes on the opening tag.
func extractXMLRuns(xml, openTag, closeTag string) string {
	var text strings.Builder
	for i, part := range strings.Split(xml, openTag) {
		if i == 0 {
			continue
		}
		gt := strings.IndexByte(part, '>')
		if gt < 0 || (part[:gt] != "" && part[0] != ' ' && part[0] != '>') {
			continue
		}
		end := strings.Index(part[gt+1:], closeTag)
		if end < 0 {
			continue
		}
		text.WriteString(part[gt+1 : gt+1+end])
		text.WriteString(" ")
	}
	return text.String()
}

func isPlainText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 2048 {
		sample = sample[:2048]
	}
	return !bytes.ContainsRune(sample, 0)
}
