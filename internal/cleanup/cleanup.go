// Package cleanup removes unused and duplicate styles and unused lists.
// Usage is recomputed from a full scan of the tree on every call.
package cleanup

import (
	"github.com/dgallion1/docforge/internal/doctree"
)

// Options select the passes to run.
type Options struct {
	// UnusedStyles removes custom styles nothing references.
	UnusedStyles bool `json:"unused_styles,omitempty"`
	// UnusedBuiltinStyles extends UnusedStyles to built-in styles other
	// than the defaults.
	UnusedBuiltinStyles bool `json:"unused_builtin_styles,omitempty"`
	UnusedLists         bool `json:"unused_lists,omitempty"`
	// DuplicateStyle repoints references from a style to an earlier
	// identical style and removes it.
	DuplicateStyle bool `json:"duplicate_style,omitempty"`
}

// Result counts what a cleanup removed.
type Result struct {
	UnusedStylesRemoved int `json:"unused_styles_removed"`
	DuplicatesRemoved   int `json:"duplicates_removed"`
	ListsRemoved        int `json:"lists_removed"`
}

// Changed reports whether anything was removed.
func (r Result) Changed() bool {
	return r.UnusedStylesRemoved+r.DuplicatesRemoved+r.ListsRemoved > 0
}

// Cleanup runs the selected passes: duplicates first, so styles freed by
// repointing can be removed as unused in the same call.
func Cleanup(doc *doctree.Document, opts Options) Result {
	var res Result
	if opts.DuplicateStyle {
		res.DuplicatesRemoved = mergeDuplicates(doc)
	}
	if opts.UnusedStyles || opts.UnusedBuiltinStyles {
		res.UnusedStylesRemoved = removeUnusedStyles(doc, opts.UnusedBuiltinStyles)
	}
	if opts.UnusedLists {
		res.ListsRemoved = removeUnusedLists(doc)
	}
	return res
}

// styleRefs calls fn with a pointer to every style reference held by a
// node of the tree.
func styleRefs(doc *doctree.Document, fn func(*doctree.StyleHandle)) {
	for n := range doc.Descendants() {
		switch p := n.Data().(type) {
		case *doctree.Paragraph:
			fn(&p.Style)
		case *doctree.Run:
			fn(&p.Style)
		case *doctree.Table:
			fn(&p.Style)
		}
	}
}

// UsedStyles returns the styles referenced from the tree, closed over
// basedOn, next and linked references. Default styles always count as
// used.
func UsedStyles(doc *doctree.Document) map[doctree.StyleHandle]bool {
	styles := doc.Styles()
	used := map[doctree.StyleHandle]bool{}
	var queue []doctree.StyleHandle
	add := func(h doctree.StyleHandle) {
		if h != 0 && !used[h] && styles.Get(h) != nil {
			used[h] = true
			queue = append(queue, h)
		}
	}
	for _, h := range styles.Handles() {
		if styles.Get(h).Default {
			add(h)
		}
	}
	styleRefs(doc, func(h *doctree.StyleHandle) { add(*h) })
	for len(queue) > 0 {
		s := styles.Get(queue[0])
		queue = queue[1:]
		add(s.BasedOn)
		add(s.Next)
		add(s.Linked)
	}
	return used
}

func removeUnusedStyles(doc *doctree.Document, builtin bool) int {
	used := UsedStyles(doc)
	styles := doc.Styles()
	removed := 0
	for _, h := range styles.Handles() {
		s := styles.Get(h)
		if used[h] || (s.BuiltIn && !builtin) {
			continue
		}
		if err := styles.Remove(h); err == nil {
			removed++
		}
	}
	return removed
}

// duplicateOf reports whether style hb can be folded into ha: same type,
// same formatting, same basedOn and next. A next of zero or of the
// style itself both mean the style follows itself. Names, identifiers
// and linked styles are not compared.
func duplicateOf(styles *doctree.StyleCollection, ha, hb doctree.StyleHandle) bool {
	a, b := styles.Get(ha), styles.Get(hb)
	return a.Type == b.Type &&
		a.Font == b.Font &&
		a.Paragraph == b.Paragraph &&
		a.BasedOn == b.BasedOn &&
		nextOf(a, ha) == nextOf(b, hb)
}

// nextOf returns the style's next handle with self references as zero.
func nextOf(s *doctree.Style, h doctree.StyleHandle) doctree.StyleHandle {
	if s.Next == h {
		return 0
	}
	return s.Next
}

// mergeDuplicates folds each style into the first identical style that
// precedes it. Built-in and default styles are never removed since
// their names carry meaning. Repointing can make more styles identical,
// so passes repeat until nothing changes.
func mergeDuplicates(doc *doctree.Document) int {
	styles := doc.Styles()
	total := 0
	for {
		repoint := map[doctree.StyleHandle]doctree.StyleHandle{}
		handles := styles.Handles()
		for i, h := range handles {
			s := styles.Get(h)
			if s.BuiltIn || s.Default {
				continue
			}
			for _, c := range handles[:i] {
				if _, gone := repoint[c]; gone {
					continue
				}
				if duplicateOf(styles, c, h) {
					repoint[h] = c
					break
				}
			}
		}
		if len(repoint) == 0 {
			return total
		}
		fix := func(h *doctree.StyleHandle) {
			if to, ok := repoint[*h]; ok {
				*h = to
			}
		}
		styleRefs(doc, fix)
		for _, h := range styles.Handles() {
			s := styles.Get(h)
			fix(&s.BasedOn)
			fix(&s.Next)
			fix(&s.Linked)
			if s.Linked == h {
				s.Linked = 0
			}
		}
		for h := range repoint {
			if err := styles.Remove(h); err == nil {
				total++
			}
		}
	}
}

// UsedLists returns the lists referenced by paragraphs.
func UsedLists(doc *doctree.Document) map[doctree.ListHandle]bool {
	used := map[doctree.ListHandle]bool{}
	for n := range doc.Descendants() {
		if p, ok := n.Data().(*doctree.Paragraph); ok && p.ListFormat.List != 0 {
			used[p.ListFormat.List] = true
		}
	}
	return used
}

func removeUnusedLists(doc *doctree.Document) int {
	used := UsedLists(doc)
	removed := 0
	for _, h := range doc.Lists().Handles() {
		if used[h] {
			continue
		}
		if err := doc.Lists().Remove(h); err == nil {
			removed++
		}
	}
	return removed
}
