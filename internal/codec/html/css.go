package html

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
)

// decl is one CSS declaration.
type decl struct{ prop, val string }

type decls []decl

func (ds decls) String() string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.prop + ":" + d.val
	}
	return strings.Join(parts, ";")
}

// merge returns base with over's declarations replacing or extending it.
func (ds decls) merge(over decls) decls {
	out := append(decls(nil), ds...)
	for _, o := range over {
		replaced := false
		for i := range out {
			if out[i].prop == o.prop {
				out[i].val, replaced = o.val, true
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}

// parseStyle splits a style attribute into lowercase properties and
// trimmed values.
func parseStyle(s string) map[string]string {
	m := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "!important"))
		if k != "" && v != "" {
			m[k] = v
		}
	}
	return m
}

func formatPt(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "pt"
}

// parseLength converts a CSS length to points. Relative units assume a
// 12pt font.
func parseLength(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	units := []struct {
		suffix string
		factor float64
	}{
		{"pt", 1}, {"px", 0.75}, {"in", 72}, {"cm", 72 / 2.54}, {"mm", 72 / 25.4},
		{"pc", 12}, {"em", 12}, {"rem", 12},
	}
	for _, u := range units {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
			if err != nil {
				return 0, false
			}
			return v * u.factor, true
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	// Unitless lengths in attributes are pixels.
	return v * 0.75, true
}

var namedColors = map[string]string{
	"black": "000000", "white": "FFFFFF", "red": "FF0000", "green": "008000",
	"blue": "0000FF", "yellow": "FFFF00", "gray": "808080", "grey": "808080",
	"silver": "C0C0C0", "maroon": "800000", "navy": "000080", "purple": "800080",
	"teal": "008080", "olive": "808000", "orange": "FFA500", "lime": "00FF00",
	"aqua": "00FFFF", "fuchsia": "FF00FF",
}

// parseColor returns an uppercase RRGGBB value.
func parseColor(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, true
	}
	if hex, ok := strings.CutPrefix(s, "#"); ok {
		switch len(hex) {
		case 3:
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		case 6:
		default:
			return "", false
		}
		if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
			return "", false
		}
		return strings.ToUpper(hex), true
	}
	if args, ok := strings.CutPrefix(s, "rgb("); ok {
		parts := strings.Split(strings.TrimSuffix(args, ")"), ",")
		if len(parts) != 3 {
			return "", false
		}
		var out strings.Builder
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || n < 0 || n > 255 {
				return "", false
			}
			fmt.Fprintf(&out, "%02X", n)
		}
		return out.String(), true
	}
	return "", false
}

// highlightColors maps highlight names to CSS colors.
var highlightColors = map[string]string{
	"yellow": "#FFFF00", "green": "#00FF00", "cyan": "#00FFFF", "magenta": "#FF00FF",
	"blue": "#0000FF", "red": "#FF0000", "darkBlue": "#000080", "darkCyan": "#008080",
	"darkGreen": "#008000", "darkMagenta": "#800080", "darkRed": "#800000",
	"darkYellow": "#808000", "darkGray": "#808080", "lightGray": "#C0C0C0", "black": "#000000",
}

// applyCharStyle folds a style attribute's character properties into f.
func applyCharStyle(f *doctree.CharFormat, css map[string]string) {
	if v, ok := css["font-weight"]; ok {
		n, err := strconv.Atoi(v)
		f.Bold = v == "bold" || v == "bolder" || (err == nil && n >= 600)
	}
	if v, ok := css["font-style"]; ok {
		f.Italic = v == "italic" || v == "oblique"
	}
	if v, ok := css["text-decoration"]; ok {
		f.Underline = strings.Contains(v, "underline")
		f.Strike = strings.Contains(v, "line-through")
	}
	if v, ok := css["color"]; ok {
		if c, ok := parseColor(v); ok {
			f.Color = c
		}
	}
	if v, ok := css["font-family"]; ok {
		family, _, _ := strings.Cut(v, ",")
		f.FontName = strings.Trim(strings.TrimSpace(family), `"'`)
	}
	if v, ok := css["font-size"]; ok {
		if pt, ok := parseLength(v); ok && pt > 0 {
			f.Size = pt
		}
	}
	switch css["vertical-align"] {
	case "super":
		f.VerticalAlign = doctree.Superscript
	case "sub":
		f.VerticalAlign = doctree.Subscript
	}
	if css["display"] == "none" {
		f.Hidden = true
	}
	if v, ok := css["background-color"]; ok {
		if c, ok := parseColor(v); ok {
			for name, hex := range highlightColors {
				if hex[1:] == c {
					f.Highlight = name
					break
				}
			}
		}
	}
}

// applyParaStyle folds a style attribute's paragraph properties into f.
func applyParaStyle(f *doctree.ParaFormat, css map[string]string) {
	switch css["text-align"] {
	case "center":
		f.Alignment = doctree.AlignCenter
	case "right":
		f.Alignment = doctree.AlignRight
	case "justify":
		f.Alignment = doctree.AlignJustify
	case "left":
		f.Alignment = doctree.AlignLeft
	}
	lengths := []struct {
		prop string
		dst  *float64
	}{
		{"margin-left", &f.LeftIndent},
		{"margin-right", &f.RightIndent},
		{"text-indent", &f.FirstLineIndent},
		{"margin-top", &f.SpaceBefore},
		{"margin-bottom", &f.SpaceAfter},
	}
	for _, l := range lengths {
		if v, ok := css[l.prop]; ok {
			if pt, ok := parseLength(v); ok {
				*l.dst = pt
			}
		}
	}
	if css["page-break-before"] == "always" || css["break-before"] == "page" {
		f.PageBreakBefore = true
	}
	if css["page-break-after"] == "avoid" || css["break-after"] == "avoid" {
		f.KeepWithNext = true
	}
}

// charDecls renders the formatting the encoder does not express with
// tags: font, size, color, highlight and hidden text.
func charDecls(f doctree.CharFormat) decls {
	var ds decls
	if f.FontName != "" {
		ds = append(ds, decl{"font-family", quoteFamily(f.FontName)})
	}
	if f.Size > 0 {
		ds = append(ds, decl{"font-size", formatPt(f.Size)})
	}
	if f.Color != "" && f.Color != "auto" {
		ds = append(ds, decl{"color", "#" + f.Color})
	}
	if c, ok := highlightColors[f.Highlight]; ok {
		ds = append(ds, decl{"background-color", c})
	}
	if f.Hidden {
		ds = append(ds, decl{"display", "none"})
	}
	return ds
}

// fullCharDecls renders every character property, for style rules.
func fullCharDecls(f doctree.CharFormat) decls {
	ds := charDecls(f)
	if f.Bold {
		ds = append(ds, decl{"font-weight", "bold"})
	}
	if f.Italic {
		ds = append(ds, decl{"font-style", "italic"})
	}
	var deco []string
	if f.Underline {
		deco = append(deco, "underline")
	}
	if f.Strike {
		deco = append(deco, "line-through")
	}
	if len(deco) > 0 {
		ds = append(ds, decl{"text-decoration", strings.Join(deco, " ")})
	}
	return ds
}

func quoteFamily(name string) string {
	if strings.ContainsAny(name, " ,") {
		return "'" + name + "'"
	}
	return name
}

func paraDecls(f doctree.ParaFormat) decls {
	var ds decls
	switch f.Alignment {
	case doctree.AlignCenter:
		ds = append(ds, decl{"text-align", "center"})
	case doctree.AlignRight:
		ds = append(ds, decl{"text-align", "right"})
	case doctree.AlignJustify:
		ds = append(ds, decl{"text-align", "justify"})
	}
	lengths := []struct {
		prop string
		v    float64
	}{
		{"margin-left", f.LeftIndent},
		{"margin-right", f.RightIndent},
		{"text-indent", f.FirstLineIndent},
		{"margin-top", f.SpaceBefore},
		{"margin-bottom", f.SpaceAfter},
	}
	for _, l := range lengths {
		if l.v != 0 {
			ds = append(ds, decl{l.prop, formatPt(l.v)})
		}
	}
	if f.PageBreakBefore {
		ds = append(ds, decl{"page-break-before", "always"})
	}
	if f.KeepWithNext {
		ds = append(ds, decl{"page-break-after", "avoid"})
	}
	return ds
}
