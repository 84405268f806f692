package splitter

import (
	"bytes"
	"iter"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sahilchouksey/study-ingest/utils/pdfvalidation"
)

// splitPDF yields one unit per page. The page ceiling is enforced up front
// from the page tree count.
func (s *Splitter) splitPDF(data []byte) (iter.Seq2[ContentUnit, error], error) {
	result, err := pdfvalidation.ValidatePDFBytes(data, s.limits)
	if err != nil {
		return nil, err
	}
	reader := result.Reader
	numPages := result.PageCount

	return func(yield func(ContentUnit, error) bool) {
		for i := 1; i <= numPages; i++ {
			page, err := singlePage(data, i)
			if err != nil {
				yield(ContentUnit{}, err)
				return
			}
			unit := ContentUnit{
				Index: i - 1,
				Kind:  UnitKindPage,
				Text:  pageText(reader.Page(i)),
				Data:  page,
			}
			if !yield(unit, nil) {
				return
			}
		}
	}, nil
}

// trimConfig keeps pdfcpu off the user config dir and tolerant of
// slightly broken uploads
var trimConfig = func() *model.Configuration {
	model.ConfigPath = "disable"
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}()

// singlePage cuts page n (1-based) out of the document as its own PDF
func singlePage(data []byte, n int) ([]byte, error) {
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(data), &out, []string{strconv.Itoa(n)}, trimConfig); err != nil {
		return nil, &PageError{Page: n, Err: err}
	}
	return out.Bytes(), nil
}

// pageText reads a page row by row, falling back to plain text. Unreadable
// pages come back empty so that page positions stay stable.
func pageText(page pdf.Page) (text string) {
	if page.V.IsNull() {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	rows, err := page.GetTextByRow()
	if err != nil {
		plain, plainErr := page.GetPlainText(nil)
		if plainErr != nil {
			return ""
		}
		return strings.TrimSpace(plain)
	}

	var b strings.Builder
	for _, row := range rows {
		var line strings.Builder
		for _, word := range row.Content {
			line.WriteString(word.S)
		}
		if l := strings.TrimSpace(line.String()); l != "" {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}
