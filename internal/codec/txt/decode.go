// Package txt reads and writes plain text. Lines become paragraphs;
// list items are recognized by their labels on load and labels are
// regenerated from the list definitions on save.
package txt

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
)

// Indent widths used when leading whitespace becomes an indent.
const (
	spaceWidth = 6.0
	tabWidth   = 36.0
)

// Decoder reads plain text.
type Decoder struct{}

func (Decoder) Decode(ctx context.Context, r io.Reader, opts codec.LoadOptions) (*doctree.Document, error) {
	lo, err := loadOptionsOf(opts)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	text, enc, err := codec.DecodeText(data, lo.Encoding)
	if err != nil {
		return nil, err
	}
	opts.Log().Debug("decoding text", "encoding", enc, "bytes", len(data))

	lines := splitLines(text)
	items := make([]listItem, len(lines))
	for i, line := range lines {
		items[i] = parseListItem(line, lo.DetectNumberingWithWhitespaces)
	}
	markListRuns(items)

	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	var list doctree.ListHandle
	for i, line := range lines {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", codec.ErrCanceled, err)
			}
		}
		if i > 0 {
			b.InsertParagraph()
		}
		p := b.CurrentParagraph()
		p.ListFormat = doctree.ListFormat{}
		p.Format = doctree.ParaFormat{}

		it := items[i]
		if it.inList {
			if it.first {
				list = addList(doc, it)
			}
			p.ListFormat = doctree.ListFormat{List: list, Level: it.level}
			line = it.rest
		}
		line = applyTrailing(line, lo.TrailingSpaces)
		switch lo.LeadingSpaces {
		case LeadingTrim:
			line = strings.TrimLeft(line, " \t")
		case LeadingConvertToIndent:
			trimmed := strings.TrimLeft(line, " \t")
			var indent float64
			for _, c := range line[:len(line)-len(trimmed)] {
				if c == '\t' {
					indent += tabWidth
				} else {
					indent += spaceWidth
				}
			}
			p.Format.LeftIndent = indent
			line = trimmed
		}
		b.Write(line)
	}
	return doc, nil
}

// splitLines splits on CR, LF and CRLF. A final line terminator does
// not start an empty paragraph.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

func applyTrailing(line string, mode TrailingSpaces) string {
	if mode == TrailingTrim {
		return strings.TrimRight(line, " \t")
	}
	return line
}

type labelKind int

const (
	notLabel labelKind = iota
	arabicLabel
	lowerLetterLabel
	upperLetterLabel
	bulletLabel
)

type listItem struct {
	kind labelKind
	// delim is the character after the number, or "" for whitespace.
	delim  string
	bullet string
	start  int
	level  int
	rest   string

	inList bool
	first  bool
}

var (
	numberedLabel = regexp.MustCompile(`^\s*(\d{1,9}(?:\.\d{1,9})*)([.)]?)[ \t]+(\S.*)$`)
	letterLabel   = regexp.MustCompile(`^\s*([a-zA-Z])([.)])[ \t]+(\S.*)$`)
	bulletLabels  = regexp.MustCompile(`^\s*([*\-•·▪o])[ \t]+(\S.*)$`)
)

func parseListItem(line string, whitespace bool) listItem {
	if m := numberedLabel.FindStringSubmatch(line); m != nil {
		parts := strings.Split(m[1], ".")
		if m[2] == "" && !whitespace {
			return listItem{}
		}
		n, _ := strconv.Atoi(parts[len(parts)-1])
		return listItem{kind: arabicLabel, delim: m[2], start: n, level: min(len(parts)-1, doctree.MaxListLevels-1), rest: m[3]}
	}
	if m := letterLabel.FindStringSubmatch(line); m != nil {
		c, _ := utf8.DecodeRuneInString(m[1])
		it := listItem{kind: upperLetterLabel, delim: m[2], rest: m[3]}
		if c >= 'a' {
			it.kind, it.start = lowerLetterLabel, int(c-'a')+1
		} else {
			it.start = int(c-'A') + 1
		}
		return it
	}
	if m := bulletLabels.FindStringSubmatch(line); m != nil {
		return listItem{kind: bulletLabel, bullet: m[1], rest: m[2]}
	}
	return listItem{}
}

// markListRuns accepts runs of two or more consecutive items with the
// same label kind as lists. A single labelled line stays body text.
func markListRuns(items []listItem) {
	for i := 0; i < len(items); {
		k := items[i].kind
		j := i + 1
		for j < len(items) && k != notLabel && items[j].kind == k && items[j].delim == items[i].delim {
			j++
		}
		if k != notLabel && j-i >= 2 {
			for x := i; x < j; x++ {
				items[x].inList = true
			}
			items[i].first = true
		}
		i = j
	}
}

func addList(doc *doctree.Document, it listItem) doctree.ListHandle {
	if it.kind == bulletLabel {
		l := doctree.NewListFromTemplate(doctree.ListBulletDefault)
		l.Levels[0].Format = it.bullet
		return doc.Lists().Add(l)
	}
	l := doctree.NewListFromTemplate(doctree.ListNumberDefault)
	delim := it.delim
	if delim == "" {
		delim = "."
	}
	for i := range l.Levels {
		lvl := &l.Levels[i]
		var b strings.Builder
		for k := 0; k <= i; k++ {
			if k > 0 {
				b.WriteByte('.')
			}
			b.WriteString("%" + strconv.Itoa(k+1))
		}
		lvl.Format = b.String() + delim
		lvl.NumberStyle = doctree.NumberArabic
	}
	switch it.kind {
	case lowerLetterLabel:
		l.Levels[0].NumberStyle = doctree.NumberLowerLetter
	case upperLetterLabel:
		l.Levels[0].NumberStyle = doctree.NumberUpperLetter
	}
	l.Levels[it.level].StartAt = max(it.start, 0)
	return doc.Lists().Add(l)
}
