package pdfform

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// pdfBuilder assembles a minimal but well-formed PDF, tracking object
// offsets so the xref table is exact.
type pdfBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int
}

func newPDFBuilder() *pdfBuilder {
	b := &pdfBuilder{offsets: make(map[int]int)}
	b.buf.WriteString("%PDF-1.7\n")
	return b
}

func (b *pdfBuilder) obj(num int, body string) {
	b.offsets[num] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (b *pdfBuilder) bytes() []byte {
	size := len(b.offsets) + 1
	xrefOffset := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", size)
	b.buf.WriteString("0000000000 65535 f \n")
	for num := 1; num < size; num++ {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", b.offsets[num])
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, xrefOffset)
	return b.buf.Bytes()
}

// writeFormTemplate writes a one-page template with a text field, a date
// text field, a checkbox, and a choice field.
func writeFormTemplate(t *testing.T) string {
	t.Helper()

	b := newPDFBuilder()
	b.obj(1, "<< /Type /Catalog /Pages 2 0 R /AcroForm 9 0 R >>")
	b.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.obj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
		"/Resources << /Font << /Helv 10 0 R >> >> /Annots [4 0 R 5 0 R 6 0 R 7 0 R] >>")
	b.obj(4, "<< /Type /Annot /Subtype /Widget /FT /Tx /T (full_name) "+
		"/Rect [100 700 300 720] /DA (/Helv 11 Tf 0 g) >>")
	b.obj(5, "<< /Type /Annot /Subtype /Widget /FT /Tx /T (hire_date) "+
		"/Rect [100 660 300 680] /DA (/Helv 11 Tf 0 g) >>")
	b.obj(6, "<< /Type /Annot /Subtype /Widget /FT /Btn /T (subscribed) "+
		"/Rect [100 620 115 635] /V /Off /AS /Off "+
		"/AP << /N << /On 11 0 R /Off 12 0 R >> >> >>")
	b.obj(7, "<< /Type /Annot /Subtype /Widget /FT /Ch /T (color) "+
		"/Rect [100 580 300 600] /Opt [(red) (green) (blue)] /DA (/Helv 11 Tf 0 g) >>")
	b.obj(8, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	b.obj(9, "<< /Fields [4 0 R 5 0 R 6 0 R 7 0 R] /DA (/Helv 0 Tf 0 g) "+
		"/DR << /Font << /Helv 10 0 R >> >> >>")
	b.obj(10, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	b.obj(11, "<< /Type /XObject /Subtype /Form /BBox [0 0 15 15] /Length 0 >>\nstream\nendstream")
	b.obj(12, "<< /Type /XObject /Subtype /Form /BBox [0 0 15 15] /Length 0 >>\nstream\nendstream")

	path := filepath.Join(t.TempDir(), "template.pdf")
	require.NoError(t, os.WriteFile(path, b.bytes(), 0o600))
	return path
}

// writeFieldlessPDF writes a valid PDF without any form fields.
func writeFieldlessPDF(t *testing.T) string {
	t.Helper()

	b := newPDFBuilder()
	b.obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.obj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")

	path := filepath.Join(t.TempDir(), "plain.pdf")
	require.NoError(t, os.WriteFile(path, b.bytes(), 0o600))
	return path
}
