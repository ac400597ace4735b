package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/config"
	"github.com/mobdev-source/pdf-bulk-filler-version-2/internal/mapping"
)

const testVersion = "1.2.3"

func TestPrintVersion(t *testing.T) {
	// Save original stdout
	originalStdout := os.Stdout

	// Create a pipe to capture output
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}

	// Redirect stdout to the pipe
	os.Stdout = w

	// Set version variables for testing
	oldVersion := version
	oldBuildTime := buildTime
	oldGitCommit := gitCommit

	version = testVersion
	buildTime = "2026-01-05_10:30:00"
	gitCommit = "abc123"

	defer func() {
		// Restore original values
		version = oldVersion
		buildTime = oldBuildTime
		gitCommit = oldGitCommit
		os.Stdout = originalStdout
	}()

	// Call printVersion in a goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		printVersion()
		w.Close()
	}()

	// Read the output
	var buf bytes.Buffer
	io.Copy(&buf, r)
	<-done

	output := buf.String()

	// Verify output contains expected information
	expectedStrings := []string{
		"PDF Bulk Filler",
		"Version: " + testVersion,
		"Build Time: 2026-01-05_10:30:00",
		"Git Commit: abc123",
		"Built with:",
	}

	for _, expected := range expectedStrings {
		if !strings.Contains(output, expected) {
			t.Errorf("printVersion() output missing expected string: %s\nActual output:\n%s", expected, output)
		}
	}
}

// formBuilder assembles a minimal but well-formed PDF form template,
// tracking object offsets so the xref table is exact.
type formBuilder struct {
	buf     bytes.Buffer
	offsets map[int]int
}

func newFormBuilder() *formBuilder {
	b := &formBuilder{offsets: make(map[int]int)}
	b.buf.WriteString("%PDF-1.7\n")
	return b
}

func (b *formBuilder) obj(num int, body string) {
	b.offsets[num] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (b *formBuilder) bytes() []byte {
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

// writeTemplate writes a one-page template with two text fields and a
// checkbox, in that enumeration order.
func writeTemplate(t *testing.T, dir string) string {
	t.Helper()

	b := newFormBuilder()
	b.obj(1, "<< /Type /Catalog /Pages 2 0 R /AcroForm 8 0 R >>")
	b.obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.obj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
		"/Resources << /Font << /Helv 7 0 R >> >> /Annots [4 0 R 5 0 R 6 0 R] >>")
	b.obj(4, "<< /Type /Annot /Subtype /Widget /FT /Tx /T (full_name) "+
		"/Rect [100 700 300 720] /DA (/Helv 11 Tf 0 g) >>")
	b.obj(5, "<< /Type /Annot /Subtype /Widget /FT /Tx /T (hire_date) "+
		"/Rect [100 660 300 680] /DA (/Helv 11 Tf 0 g) >>")
	b.obj(6, "<< /Type /Annot /Subtype /Widget /FT /Btn /T (subscribed) "+
		"/Rect [100 620 115 635] /V /Off /AS /Off "+
		"/AP << /N << /On 9 0 R /Off 10 0 R >> >> >>")
	b.obj(7, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	b.obj(8, "<< /Fields [4 0 R 5 0 R 6 0 R] /DA (/Helv 0 Tf 0 g) "+
		"/DR << /Font << /Helv 7 0 R >> >> >>")
	b.obj(9, "<< /Type /XObject /Subtype /Form /BBox [0 0 15 15] /Length 0 >>\nstream\nendstream")
	b.obj(10, "<< /Type /XObject /Subtype /Form /BBox [0 0 15 15] /Length 0 >>\nstream\nendstream")

	path := filepath.Join(dir, "template.pdf")
	if err := os.WriteFile(path, b.bytes(), 0o600); err != nil {
		t.Fatalf("Failed to write template: %v", err)
	}
	return path
}

func writeCSV(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "people.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write CSV: %v", err)
	}
	return path
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.OutputDir = filepath.Join(dir, "filled")
	cfg.RecordTimeout = 10 * time.Second
	if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
		t.Fatalf("Failed to create output dir: %v", err)
	}
	return cfg
}

func TestRun_PositionalPairing(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.TemplatePath = writeTemplate(t, dir)
	cfg.DataPath = writeCSV(t, dir,
		"name,start,newsletter\n"+
			"Alice,2024-01-15,yes\n"+
			"Bob,2024-02-01,no\n")

	report, err := run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run() unexpected error: %v", err)
	}

	if report.Succeeded != 2 || report.Failed != 0 {
		t.Fatalf("run() report = %d succeeded / %d failed, want 2/0", report.Succeeded, report.Failed)
	}
	for i := 0; i < 2; i++ {
		out := filepath.Join(cfg.OutputDir, fmt.Sprintf("record-%05d.pdf", i))
		if _, err := os.Stat(out); err != nil {
			t.Errorf("Expected output %s: %v", out, err)
		}
	}
}

func TestRun_MappingFileAndCombine(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.TemplatePath = writeTemplate(t, dir)
	cfg.DataPath = writeCSV(t, dir,
		"person,joined\n"+
			"Carol,2023-07-01\n"+
			"Dave,2023-08-15\n"+
			"Erin,2023-09-30\n")
	cfg.CombinedOutput = filepath.Join(dir, "all.pdf")

	m := mapping.New()
	if err := m.AddPair("person", "full_name"); err != nil {
		t.Fatalf("AddPair: %v", err)
	}
	if err := m.AddPair("joined", "hire_date"); err != nil {
		t.Fatalf("AddPair: %v", err)
	}
	cfg.MappingPath = filepath.Join(dir, "mapping.json")
	if err := m.Save(cfg.MappingPath); err != nil {
		t.Fatalf("Save mapping: %v", err)
	}

	report, err := run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("run() unexpected error: %v", err)
	}

	if report.Succeeded != 3 {
		t.Fatalf("run() Succeeded = %d, want 3", report.Succeeded)
	}
	if report.CombinedOutput != cfg.CombinedOutput {
		t.Errorf("run() CombinedOutput = %q, want %q", report.CombinedOutput, cfg.CombinedOutput)
	}
	if _, err := os.Stat(cfg.CombinedOutput); err != nil {
		t.Errorf("Expected combined output: %v", err)
	}
}

func TestRun_MappingWithUnknownColumnFails(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.TemplatePath = writeTemplate(t, dir)
	cfg.DataPath = writeCSV(t, dir, "name\nAlice\n")

	m := mapping.New()
	if err := m.AddPair("no_such_column", "full_name"); err != nil {
		t.Fatalf("AddPair: %v", err)
	}
	cfg.MappingPath = filepath.Join(dir, "mapping.json")
	if err := m.Save(cfg.MappingPath); err != nil {
		t.Fatalf("Save mapping: %v", err)
	}

	_, err := run(context.Background(), cfg)
	if err == nil {
		t.Fatal("run() expected error for unresolved mapping reference")
	}
	if !strings.Contains(err.Error(), "no_such_column") {
		t.Errorf("run() error = %v, want mention of the unknown column", err)
	}
}

func TestRun_MissingTemplate(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.TemplatePath = filepath.Join(dir, "does-not-exist.pdf")
	cfg.DataPath = writeCSV(t, dir, "name\nAlice\n")

	if _, err := run(context.Background(), cfg); err == nil {
		t.Fatal("run() expected error for missing template")
	}
}
