// Package pdf imports the text of PDF files. Each page becomes a run
// of paragraphs, and every page after the first starts on a new page.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
	pdflib "github.com/ledongthuc/pdf"
)

// LoadOptions configure the PDF decoder. Pass one in
// codec.LoadOptions.Specific.
type LoadOptions struct {
	// FirstPage and LastPage limit the imported pages, counting from 1.
	// Zero means the first or the last page of the file.
	FirstPage int `json:"first_page,omitempty"`
	LastPage  int `json:"last_page,omitempty"`
	// SkipPageBreaks imports every page into one flow of paragraphs.
	SkipPageBreaks bool `json:"skip_page_breaks,omitempty"`
	// FallbackPdftotext runs the pdftotext tool, if installed, when the
	// built-in reader cannot extract a page.
	FallbackPdftotext bool `json:"fallback_pdftotext,omitempty"`
}

func loadOptionsOf(opts codec.LoadOptions) (LoadOptions, error) {
	switch v := opts.Specific.(type) {
	case nil:
		return LoadOptions{}, nil
	case LoadOptions:
		return v, nil
	case *LoadOptions:
		if v == nil {
			return LoadOptions{}, nil
		}
		return *v, nil
	}
	return LoadOptions{}, fmt.Errorf("%w: %T for %s", codec.ErrOptionsMismatch, opts.Specific, codec.PDF)
}

// Decoder reads PDF text.
type Decoder struct{}

func (Decoder) Decode(ctx context.Context, r io.Reader, opts codec.LoadOptions) (*doctree.Document, error) {
	lo, err := loadOptionsOf(opts)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	log := opts.Log()

	reader, err := open(data, opts.Password)
	if err != nil {
		return nil, err
	}

	pages, err := extractPages(ctx, reader, lo)
	if err != nil && lo.FallbackPdftotext {
		log.Warn("pdf reader failed, trying pdftotext", "error", err)
		pages, err = extractPdftotext(ctx, data, lo)
	}
	if err != nil {
		return nil, err
	}

	doc := doctree.NewDocument()
	readInfo(reader, doc)
	b := doctree.NewBuilder(doc)
	first := true
	for i, page := range pages {
		paras := splitParagraphs(page)
		if len(paras) == 0 {
			log.Debug("empty pdf page", "page", i+1)
			continue
		}
		for j, text := range paras {
			if !first {
				b.InsertParagraph()
			}
			f := doctree.ParaFormat{}
			if j == 0 && !first && !lo.SkipPageBreaks {
				f.PageBreakBefore = true
			}
			b.SetParagraphFormat(f)
			b.Write(text)
			first = false
		}
	}
	return doc, nil
}

// open parses the cross reference table. The PDF library panics on some
// malformed files, which is reported as corruption.
func open(data []byte, password string) (reader *pdflib.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			reader, err = nil, codec.Corruptf("pdf: %v", r)
		}
	}()
	tried := false
	pw := func() string {
		if tried || password == "" {
			return ""
		}
		tried = true
		return password
	}
	reader, err = pdflib.NewReaderEncrypted(bytes.NewReader(data), int64(len(data)), pw)
	switch {
	case err == nil:
		return reader, nil
	case errors.Is(err, pdflib.ErrInvalidPassword) && password == "":
		return nil, fmt.Errorf("%w: pdf is encrypted", codec.ErrPasswordRequired)
	case errors.Is(err, pdflib.ErrInvalidPassword):
		return nil, codec.ErrWrongPassword
	}
	return nil, codec.Corruptf("pdf: %v", err)
}

func pageRange(n int, lo LoadOptions) (int, int) {
	first, last := max(lo.FirstPage, 1), n
	if lo.LastPage > 0 {
		last = min(lo.LastPage, n)
	}
	return first, last
}

func extractPages(ctx context.Context, reader *pdflib.Reader, lo LoadOptions) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, codec.Corruptf("pdf: %v", r)
		}
	}()
	first, last := pageRange(reader.NumPage(), lo)
	for i := first; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", codec.ErrCanceled, err)
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, codec.Corruptf("pdf page %d: %v", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func extractPdftotext(ctx context.Context, data []byte, lo LoadOptions) ([]string, error) {
	tmp, err := os.CreateTemp("", "docforge-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	args := []string{"-layout"}
	if lo.FirstPage > 0 {
		args = append(args, "-f", fmt.Sprint(lo.FirstPage))
	}
	if lo.LastPage > 0 {
		args = append(args, "-l", fmt.Sprint(lo.LastPage))
	}
	out, err := exec.CommandContext(ctx, "pdftotext", append(args, tmp.Name(), "-")...).Output()
	if err != nil {
		return nil, codec.Corruptf("pdftotext: %v", err)
	}
	pages := strings.Split(string(out), "\f")
	if n := len(pages); n > 0 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages, nil
}

// splitParagraphs groups the lines of a page into paragraphs at blank
// lines. A page without blank lines keeps one paragraph per line.
func splitParagraphs(page string) []string {
	page = strings.ReplaceAll(page, "\r\n", "\n")
	lines := strings.Split(page, "\n")
	blank := false
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			blank = true
			break
		}
	}
	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		switch {
		case l == "":
			flush()
		case blank:
			cur = append(cur, l)
		default:
			out = append(out, l)
		}
	}
	flush()
	return out
}

// readInfo copies the document information dictionary.
func readInfo(reader *pdflib.Reader, doc *doctree.Document) {
	defer func() { recover() }()
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return
	}
	p := &doc.BuiltIn
	p.Title = info.Key("Title").Text()
	p.Subject = info.Key("Subject").Text()
	p.Author = info.Key("Author").Text()
	p.Keywords = info.Key("Keywords").Text()
	if t, ok := parseDate(info.Key("CreationDate").RawString()); ok {
		p.Created = t
	}
	if t, ok := parseDate(info.Key("ModDate").RawString()); ok {
		p.LastSaved = t
	}
}

// parseDate reads a PDF date string such as D:20240506070809Z.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimPrefix(s, "D:")
	if len(s) < 4 {
		return time.Time{}, false
	}
	n := min(len(s), 14) &^ 1
	t, err := time.Parse("20060102150405"[:n], s[:n])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Register installs the decoder. PDF is import only.
func Register(r *codec.Registry) {
	r.Register(codec.PDF, Decoder{}, nil)
}
