package render

import (
	"bytes"
	"fmt"
	"strings"
)

// buildPDF emits a minimal PDF 1.4 document with one page of Helvetica text
// per lines argument. The card printer driver consumes these directly; no
// styling beyond plain text is needed, which keeps the writer small enough
// to not warrant a PDF dependency.
func buildPDF(pages ...[]string) []byte {
	var buf bytes.Buffer
	offsets := make([]int, 0, 8)

	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	buf.WriteString("%PDF-1.4\n")

	pageCount := len(pages)
	// Object layout: 1 catalog, 2 pages, 3 font, then per page one page
	// object and one content stream.
	kids := make([]string, pageCount)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+i*2)
	}

	writeObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	writeObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), pageCount))
	writeObj("3 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	for i, lines := range pages {
		pageNum := 4 + i*2
		contentNum := pageNum + 1

		writeObj(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 243 153] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>\nendobj\n",
			pageNum, contentNum))

		var content strings.Builder
		content.WriteString("BT /F1 7 Tf 12 140 Td 10 TL\n")
		for _, line := range lines {
			content.WriteString(fmt.Sprintf("(%s) Tj T*\n", escapePDFText(line)))
		}
		content.WriteString("ET\n")

		writeObj(fmt.Sprintf("%d 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n",
			contentNum, content.Len(), content.String()))
	}

	xrefOffset := buf.Len()
	total := len(offsets) + 1
	buf.WriteString(fmt.Sprintf("xref\n0 %d\n", total))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", off))
	}
	buf.WriteString(fmt.Sprintf("trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		total, xrefOffset))

	return buf.Bytes()
}

func escapePDFText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "(", "\\(")
	s = strings.ReplaceAll(s, ")", "\\)")
	return s
}
