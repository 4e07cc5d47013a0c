package content

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/docforge/internal/doctree"
)

// UpdateOptions control UpdateFields.
type UpdateOptions struct {
	// Now is used for DATE and TIME fields; zero leaves them untouched.
	Now time.Time
}

// UpdateFields recomputes the results of fields whose value comes from
// the document itself: DOCVARIABLE, DOCPROPERTY, the summary fields
// (TITLE, AUTHOR, SUBJECT, KEYWORDS, COMMENTS), REF and SEQ. Locked and
// unresulted fields are skipped. It returns the number of fields updated.
func UpdateFields(doc *doctree.Document, opts UpdateOptions) (int, error) {
	fields, err := doc.Fields()
	if err != nil {
		return 0, err
	}
	seq := make(map[string]int)
	updated := 0
	for _, f := range fields {
		start := f.Start.Data().(*doctree.FieldStart)
		if start.Locked || !f.HasResult() {
			continue
		}
		fc := doctree.ParseFieldCode(f.Code())
		value, ok := fieldValue(doc, f.Type(), fc, seq, opts)
		if !ok {
			continue
		}
		if err := f.SetResult(value); err != nil {
			return updated, fmt.Errorf("update %s field: %w", f.Type(), err)
		}
		start.Dirty = false
		updated++
	}
	return updated, nil
}

func fieldValue(doc *doctree.Document, t doctree.FieldType, fc doctree.FieldCode, seq map[string]int, opts UpdateOptions) (string, bool) {
	arg := ""
	if len(fc.Args) > 0 {
		arg = fc.Args[0]
	}
	var v string
	switch t {
	case doctree.FieldDocVariable:
		s, ok := doc.Variables.Get(arg)
		if !ok {
			return "", false
		}
		v = s
	case doctree.FieldDocProperty:
		if s, ok := doc.BuiltIn.Lookup(arg); ok {
			v = s
		} else if p, ok := doc.Custom.Get(arg); ok {
			v = formatProperty(p)
		} else {
			return "", false
		}
	case doctree.FieldTitle:
		v = doc.BuiltIn.Title
	case doctree.FieldAuthor:
		v = doc.BuiltIn.Author
	case doctree.FieldSubject:
		v = doc.BuiltIn.Subject
	case doctree.FieldKeywords:
		v = doc.BuiltIn.Keywords
	case doctree.FieldComments:
		v = doc.BuiltIn.Comments
	case doctree.FieldRef:
		s, err := BookmarkText(doc, arg)
		if err != nil {
			return "", false
		}
		v = s
	case doctree.FieldSeq:
		if r, ok := fc.Switch(`\r`); ok {
			n, err := strconv.Atoi(r)
			if err == nil {
				seq[arg] = n - 1
			}
		}
		if _, repeat := fc.Switch(`\c`); !repeat {
			seq[arg]++
		}
		v = strconv.Itoa(seq[arg])
	case doctree.FieldDate, doctree.FieldTime:
		if opts.Now.IsZero() {
			return "", false
		}
		layout := "1/2/2006"
		if t == doctree.FieldTime {
			layout = "3:04 PM"
		}
		if pic, ok := fc.Switch(`\@`); ok {
			layout = GoDateLayout(pic)
		}
		v = opts.Now.Format(layout)
	default:
		return "", false
	}
	return ApplyFormatSwitch(v, fc), true
}

func formatProperty(v any) string {
	switch p := v.(type) {
	case time.Time:
		return p.Format("1/2/2006")
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// ApplyFormatSwitch applies the \* text-case switch of a field code.
func ApplyFormatSwitch(v string, fc doctree.FieldCode) string {
	sw, ok := fc.Switch(`\*`)
	if !ok {
		return v
	}
	switch strings.ToLower(sw) {
	case "upper":
		return strings.ToUpper(v)
	case "lower":
		return strings.ToLower(v)
	case "firstcap":
		if v == "" {
			return v
		}
		r := []rune(strings.ToLower(v))
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		return string(r)
	case "caps":
		words := strings.Fields(strings.ToLower(v))
		for i, w := range words {
			r := []rune(w)
			r[0] = []rune(strings.ToUpper(string(r[0])))[0]
			words[i] = string(r)
		}
		return strings.Join(words, " ")
	}
	return v
}

// dateTokens maps field date picture tokens to Go layout elements,
// longest first.
var dateTokens = []struct{ pic, layout string }{
	{"dddd", "Monday"}, {"ddd", "Mon"}, {"dd", "02"}, {"d", "2"},
	{"MMMM", "January"}, {"MMM", "Jan"}, {"MM", "01"}, {"M", "1"},
	{"yyyy", "2006"}, {"yy", "06"},
	{"HH", "15"}, {"H", "15"}, {"hh", "03"}, {"h", "3"},
	{"mm", "04"}, {"m", "4"}, {"ss", "05"}, {"s", "5"},
	{"AM/PM", "PM"}, {"am/pm", "pm"},
}

// GoDateLayout converts a field date picture such as "d MMMM yyyy" to a
// time.Format layout. Text in single quotes is copied literally.
func GoDateLayout(pic string) string {
	var b strings.Builder
	for i := 0; i < len(pic); {
		if pic[i] == '\'' {
			j := strings.IndexByte(pic[i+1:], '\'')
			if j < 0 {
				b.WriteString(pic[i+1:])
				break
			}
			b.WriteString(pic[i+1 : i+1+j])
			i += j + 2
			continue
		}
		matched := false
		for _, tk := range dateTokens {
			if strings.HasPrefix(pic[i:], tk.pic) {
				b.WriteString(tk.layout)
				i += len(tk.pic)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pic[i])
			i++
		}
	}
	return b.String()
}
