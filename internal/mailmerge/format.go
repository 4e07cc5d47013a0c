package mailmerge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

// dateLayouts are tried in order when a \@ switch meets a string value.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006",
}

// formatValue renders v for a MERGEFIELD with code fc. An empty result
// drops the \b and \f text.
func formatValue(v any, fc doctree.FieldCode) string {
	var s string
	if pic, ok := fc.Switch(`\@`); ok {
		if t, ok := asTime(v); ok {
			s = t.Format(content.GoDateLayout(pic))
		}
	}
	if pic, ok := fc.Switch(`\#`); ok && s == "" {
		if f, ok := asFloat(v); ok {
			s = formatNumber(f, pic)
		}
	}
	if s == "" {
		s = plain(v)
	}
	s = content.ApplyFormatSwitch(s, fc)
	if s == "" {
		return ""
	}
	before, _ := fc.Switch(`\b`)
	after, _ := fc.Switch(`\f`)
	return before + s + after
}

func plain(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.Format("1/2/2006")
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if tm, err := time.Parse(layout, s); err == nil {
				return tm, true
			}
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(t, ",", "")), 64)
		return f, err == nil
	}
	return 0, false
}

// formatNumber applies a numeric picture such as "#,##0.00" or "$0.0".
// Text before the first and after the last digit placeholder is copied;
// '0' forces a digit, '#' shows one only when needed, and a ',' in the
// integer part turns on thousands grouping.
func formatNumber(f float64, pic string) string {
	first := strings.IndexAny(pic, "0#")
	last := strings.LastIndexAny(pic, "0#")
	if first < 0 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	prefix, body, suffix := pic[:first], pic[first:last+1], pic[last+1:]
	intPic, fracPic, _ := strings.Cut(body, ".")
	group := strings.Contains(intPic, ",")
	minInt := strings.Count(intPic, "0")
	minFrac := strings.Count(fracPic, "0")
	maxFrac := minFrac + strings.Count(fracPic, "#")

	neg := f < 0
	f = math.Abs(f)
	digits := strconv.FormatFloat(f, 'f', maxFrac, 64)
	ip, fp, _ := strings.Cut(digits, ".")
	for len(fp) > minFrac && strings.HasSuffix(fp, "0") {
		fp = fp[:len(fp)-1]
	}
	if ip == "0" && minInt == 0 {
		ip = ""
	}
	for len(ip) < minInt {
		ip = "0" + ip
	}
	if group && len(ip) > 3 {
		var b strings.Builder
		lead := len(ip) % 3
		if lead > 0 {
			b.WriteString(ip[:lead])
		}
		for i := lead; i < len(ip); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(ip[i : i+3])
		}
		ip = b.String()
	}
	out := ip
	if fp != "" {
		out += "." + fp
	}
	if out == "" {
		out = "0"
	}
	if neg && strings.Trim(out, "0.,") != "" {
		prefix = "-" + prefix
	}
	return prefix + out + suffix
}
