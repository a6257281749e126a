package archive

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// onePagePDF builds a minimal single-page PDF with a valid xref table.
func onePagePDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Resources << >> >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestMergePDF(t *testing.T) {
	merged, err := MergePDF([][]byte{onePagePDF(), onePagePDF(), onePagePDF()})
	if err != nil {
		t.Fatalf("MergePDF() error = %v", err)
	}

	pages, err := api.PageCount(bytes.NewReader(merged), nil)
	if err != nil {
		t.Fatalf("PageCount() error = %v", err)
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
}

func TestMergePDF_Single(t *testing.T) {
	doc := []byte("%PDF single")
	got, err := MergePDF([][]byte{doc})
	if err != nil {
		t.Fatalf("MergePDF() error = %v", err)
	}
	if !bytes.Equal(got, doc) {
		t.Errorf("single document changed: %q", got)
	}
}

func TestMergePDF_Errors(t *testing.T) {
	if _, err := MergePDF(nil); err == nil {
		t.Error("MergePDF(nil) should fail")
	}
	if _, err := MergePDF([][]byte{onePagePDF(), []byte("not a pdf")}); err == nil {
		t.Error("MergePDF() should reject a corrupt document")
	}
}
