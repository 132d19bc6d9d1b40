package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
)

// ExtractText reads a plain-text file. Bytes that are not valid UTF-8 are
// decoded as Latin-1.
func ExtractText(_ context.Context, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes), nil
}

// ExtractPDF concatenates the plain text of every readable page.
func ExtractPDF(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat pdf: %w", err)
	}
	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		for _, name := range page.Fonts() {
			f := page.Font(name)
			fonts[name] = &f
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

// ExtractDOCX returns the paragraphs of word/document.xml separated by newlines.
func ExtractDOCX(_ context.Context, path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		var doc docxDocument
		if err := xml.Unmarshal(raw, &doc); err != nil {
			return "", fmt.Errorf("decode document.xml: %w", err)
		}
		paras := make([]string, 0, len(doc.Body.Paragraphs))
		for _, p := range doc.Body.Paragraphs {
			var b strings.Builder
			for _, r := range p.Runs {
				for _, t := range r.Text {
					b.WriteString(t.Content)
				}
			}
			if s := strings.TrimSpace(b.String()); s != "" {
				paras = append(paras, s)
			}
		}
		return strings.Join(paras, "\n"), nil
	}
	return "", fmt.Errorf("docx: word/document.xml not found")
}

// ExtractHTML returns the readable article text of an HTML file.
func ExtractHTML(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	abs, _ := filepath.Abs(path)
	article, err := readability.FromReader(f, &url.URL{Scheme: "file", Path: abs})
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return strings.TrimSpace(article.TextContent), nil
}
