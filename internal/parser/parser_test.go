package parser

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestNormalizeType(t *testing.T) {
	for in, want := range map[string]string{"PDF": ".pdf", ".Docx": ".docx", " txt ": ".txt", "": ""} {
		if got := NormalizeType(in); got != want {
			t.Fatalf("NormalizeType(%q) = %q want %q", in, got, want)
		}
	}
}

func TestParseUnsupported(t *testing.T) {
	r := New()
	path := writeFile(t, "a.xls", []byte("x"))
	_, err := r.Parse(context.Background(), path, ".xls")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if r.Supported("xls") || !r.Supported("PDF") {
		t.Fatalf("unexpected support table: %v", r.Types())
	}
}

func TestParseText(t *testing.T) {
	path := writeFile(t, "notes.txt", []byte("hola señor\nline two"))
	text, err := New().Parse(context.Background(), path, "txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if text != "hola señor\nline two" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestParseTextLatin1(t *testing.T) {
	path := writeFile(t, "legacy.txt", []byte{'c', 'a', 'f', 0xe9})
	text, err := New().Parse(context.Background(), path, ".txt")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if text != "café" {
		t.Fatalf("expected latin-1 fallback, got %q", text)
	}
}

func TestParseDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>First </w:t></w:r><w:r><w:t>paragraph</w:t></w:r></w:p>
<w:p></w:p>
<w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>
</w:body>
</w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	f.Close()

	text, err := New().Parse(context.Background(), path, ".docx")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if text != "First paragraph\nSecond paragraph" {
		t.Fatalf("unexpected docx text %q", text)
	}
}

func TestParseDOCXMissingBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.docx")
	f, _ := os.Create(path)
	zw := zip.NewWriter(f)
	_, _ = zw.Create("docProps/core.xml")
	_ = zw.Close()
	f.Close()
	if _, err := New().Parse(context.Background(), path, ".docx"); err == nil {
		t.Fatalf("expected error for docx without document.xml")
	}
}

func TestParseHTML(t *testing.T) {
	body := "<html><head><title>Hooks</title></head><body><article><h1>Hooks</h1><p>" +
		strings.Repeat("A good hook names the pain of the audience in one line. ", 20) +
		"</p></article></body></html>"
	path := writeFile(t, "page.html", []byte(body))
	text, err := New().Parse(context.Background(), path, ".html")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(text, "A good hook names the pain") {
		t.Fatalf("unexpected html text %q", text)
	}
}

func TestParseInvalidPDF(t *testing.T) {
	path := writeFile(t, "broken.pdf", []byte("not a pdf"))
	_, err := New().Parse(context.Background(), path, ".pdf")
	if err == nil || errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected pdf read error, got %v", err)
	}
}
