package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedType is returned for file types outside the allowed set.
var ErrUnsupportedType = errors.New("unsupported file type")

// plainTextTypes are read as-is; everything textual the product accepts
// besides pdf and html.
var plainTextTypes = map[string]bool{
	"md":   true,
	"txt":  true,
	"csv":  true,
	"json": true,
	"yaml": true,
	"yml":  true,
	"log":  true,
	"rst":  true,
	"xml":  true,
}

// Supported reports whether fileType can be parsed into plain text.
func Supported(fileType string) bool {
	switch fileType {
	case "pdf", "html", "htm":
		return true
	}
	return plainTextTypes[fileType]
}

// Parse extracts plain text from raw file bytes according to the declared
// file type. Corrupt content yields an error; content with no text yields
// an empty string, which callers must treat as a processing failure.
func Parse(raw []byte, fileType string) (string, error) {
	switch {
	case fileType == "pdf":
		return parsePDF(raw)
	case fileType == "html" || fileType == "htm":
		return parseHTML(raw)
	case plainTextTypes[fileType]:
		return string(raw), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
}

func parsePDF(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	readerAt := bytes.NewReader(raw)
	pdfReader, err := pdf.NewReader(readerAt, int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text failed: %w", err)
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return "", fmt.Errorf("read pdf text failed: %w", err)
	}
	return string(out), nil
}

func parseHTML(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html failed: %w", err)
	}
	doc.Find("script, style, nav, footer, header").Remove()

	var b strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
	})
	text := b.String()
	if strings.TrimSpace(text) == "" {
		// Fragment without a body element; fall back to the whole tree.
		text = doc.Text()
	}

	// Collapse runs of blank lines left behind by removed markup.
	lines := strings.Split(text, "\n")
	var kept []string
	for _, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n"), nil
}
