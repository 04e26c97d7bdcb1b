package receipts

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"bookstore-backend/internal/apperr"

	"github.com/ledongthuc/pdf"
	"github.com/microcosm-cc/bluemonday"
)

var spaces = regexp.MustCompile(`\s+`)

func squash(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// pdfText extracts the plain text of a PDF receipt.
func pdfText(doc []byte) (string, error) {
	if !bytes.HasPrefix(doc, []byte("%PDF")) {
		return "", apperr.BadRequest("Receipt is not a PDF document")
	}
	r, err := pdf.NewReader(bytes.NewReader(doc), int64(len(doc)))
	if err != nil {
		return "", apperr.BadRequest("Could not open receipt PDF: %v", err)
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", apperr.BadRequest("Could not read receipt PDF: %v", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rd); err != nil {
		return "", apperr.BadRequest("Could not read receipt PDF: %v", err)
	}
	return squash(buf.String()), nil
}

var stripTags = bluemonday.StrictPolicy()

// htmlText reduces an HTML receipt to its visible text.
func htmlText(doc []byte) (string, error) {
	// keep cell boundaries as whitespace once tags are gone
	src := strings.NewReplacer("<", " <", ">", "> ").Replace(string(doc))
	text := squash(html.UnescapeString(stripTags.Sanitize(src)))
	if text == "" {
		return "", apperr.BadRequest("Receipt page has no content")
	}
	return text, nil
}
