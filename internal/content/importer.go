package content

import (
	"fmt"
	"strconv"

	"github.com/dgallion1/docforge/internal/doctree"
)

// ImportFormatMode says how styles of imported content are reconciled
// with same-named styles of the destination.
type ImportFormatMode int

const (
	// UseDestinationStyles uses the destination's definition of a clashing
	// style, so imported content takes the destination look.
	UseDestinationStyles ImportFormatMode = iota
	// KeepSourceFormatting copies a clashing style whose definition
	// differs under a new unique name.
	KeepSourceFormatting
	// KeepDifferentStyles reuses the destination style and carries the
	// differing source formatting as direct formatting.
	KeepDifferentStyles
)

var importFormatModeNames = [...]string{"UseDestinationStyles", "KeepSourceFormatting", "KeepDifferentStyles"}

func (m ImportFormatMode) String() string {
	if m < 0 || int(m) >= len(importFormatModeNames) {
		return fmt.Sprintf("ImportFormatMode(%d)", int(m))
	}
	return importFormatModeNames[m]
}

// ImportOptions tune an import session.
type ImportOptions struct {
	// KeepSourceNumbering imports each list as an independent copy. When
	// false, a list whose definition ID already exists in the destination
	// continues that destination list.
	KeepSourceNumbering bool
	// IgnoreHeaderFooter skips headers and footers of imported sections.
	IgnoreHeaderFooter bool
}

// Importer clones nodes from one document into another. Style, list and
// comment mappings are cached, so every node imported through the same
// importer maps consistently.
type Importer struct {
	src, dst *doctree.Document
	mode     ImportFormatMode
	opts     ImportOptions

	styles   map[doctree.StyleHandle]doctree.StyleHandle
	expand   map[doctree.StyleHandle]bool
	lists    map[doctree.ListHandle]doctree.ListHandle
	comments map[int]int
}

// NewImporter returns an importer from src into dst.
func NewImporter(src, dst *doctree.Document, mode ImportFormatMode, opts ImportOptions) *Importer {
	return &Importer{
		src:      src,
		dst:      dst,
		mode:     mode,
		opts:     opts,
		styles:   make(map[doctree.StyleHandle]doctree.StyleHandle),
		expand:   make(map[doctree.StyleHandle]bool),
		lists:    make(map[doctree.ListHandle]doctree.ListHandle),
		comments: make(map[int]int),
	}
}

// Import returns a deep, unattached clone of n owned by the destination.
func (im *Importer) Import(n *doctree.Node) (*doctree.Node, error) {
	if n.Document() != im.src {
		return nil, fmt.Errorf("%w: node does not belong to the import source", doctree.ErrInvalidTreeOperation)
	}
	if n.Type() == doctree.DocumentNode {
		return nil, fmt.Errorf("%w: import sections, not the document node", doctree.ErrInvalidTreeOperation)
	}
	c := n.CloneTo(im.dst, true, im)
	im.fixup(n, c)
	if im.opts.IgnoreHeaderFooter && c.Type() == doctree.SectionNode {
		for _, hf := range doctree.ChildrenOf[*doctree.HeaderFooter](c) {
			// Detached clone: removal is never tracked here.
			_ = hf.Remove()
		}
	}
	return c, nil
}

// fixup walks the source and its clone in parallel to apply expanded
// style formatting and renumber comments.
func (im *Importer) fixup(src, dst *doctree.Node) {
	switch d := dst.Data().(type) {
	case *doctree.Paragraph:
		s := src.Data().(*doctree.Paragraph)
		if im.expand[s.Style] {
			if st := im.src.Styles().Get(s.Style); st != nil && d.Format.IsZero() {
				d.Format = st.Paragraph
			}
			for r := range dst.Children() {
				if run, ok := r.Data().(*doctree.Run); ok {
					run.Format = run.Format.Merge(im.src.Styles().EffectiveFont(s.Style))
				}
			}
		}
	case *doctree.Run:
		s := src.Data().(*doctree.Run)
		if im.expand[s.Style] {
			d.Format = d.Format.Merge(im.src.Styles().EffectiveFont(s.Style))
		}
	case *doctree.Comment:
		d.ID = im.commentID(d.ID)
	case *doctree.CommentRangeStart:
		d.ID = im.commentID(d.ID)
	case *doctree.CommentRangeEnd:
		d.ID = im.commentID(d.ID)
	}
	sc, dc := src.FirstChild(), dst.FirstChild()
	for sc != nil && dc != nil {
		im.fixup(sc, dc)
		sc, dc = sc.NextSibling(), dc.NextSibling()
	}
}

func (im *Importer) commentID(old int) int {
	if id, ok := im.comments[old]; ok {
		return id
	}
	id := im.dst.NextCommentID()
	im.comments[old] = id
	return id
}

// MapStyle translates a source style handle into the destination,
// copying the style when needed.
func (im *Importer) MapStyle(h doctree.StyleHandle) doctree.StyleHandle {
	if h == 0 {
		return 0
	}
	if m, ok := im.styles[h]; ok {
		return m
	}
	s := im.src.Styles().Get(h)
	if s == nil {
		return 0
	}
	dh, exists := im.dst.Styles().Lookup(s.Name, s.Type)
	switch {
	case !exists:
		return im.copyStyle(h, s, s.Name)
	case im.mode == UseDestinationStyles:
	case SameStyle(im.src.Styles(), h, im.dst.Styles(), dh):
	case im.mode == KeepSourceFormatting:
		return im.copyStyle(h, s, im.uniqueName(s))
	case im.mode == KeepDifferentStyles:
		im.expand[h] = true
	}
	im.styles[h] = dh
	return dh
}

func (im *Importer) copyStyle(h doctree.StyleHandle, s *doctree.Style, name string) doctree.StyleHandle {
	cp := *s
	cp.Name = name
	cp.BasedOn, cp.Next, cp.Linked = 0, 0, 0
	if cp.Default && im.dst.Styles().Default(cp.Type) != 0 {
		cp.Default = false
	}
	if _, clash := im.dst.Styles().ByID(cp.StyleID); clash || name != s.Name {
		cp.StyleID = ""
	}
	dh, err := im.dst.Styles().Add(cp)
	if err != nil {
		// Lookup said the name was free; only a concurrent edit gets here.
		panic(err)
	}
	im.styles[h] = dh
	st := im.dst.Styles().Get(dh)
	st.BasedOn = im.MapStyle(s.BasedOn)
	st.Next = im.MapStyle(s.Next)
	st.Linked = im.MapStyle(s.Linked)
	return dh
}

func (im *Importer) uniqueName(s *doctree.Style) string {
	for i := 0; ; i++ {
		name := s.Name + "_" + strconv.Itoa(i)
		if _, ok := im.dst.Styles().Lookup(name, s.Type); !ok {
			return name
		}
	}
}

// MapList translates a source list handle. With KeepSourceNumbering the
// list is copied with a fresh definition ID so it numbers on its own;
// otherwise a destination list with the same definition ID and levels is
// reused and continues its numbering, and anything else is copied.
func (im *Importer) MapList(h doctree.ListHandle) doctree.ListHandle {
	if h == 0 {
		return 0
	}
	if m, ok := im.lists[h]; ok {
		return m
	}
	l := im.src.Lists().Get(h)
	if l == nil {
		return 0
	}
	var dh doctree.ListHandle
	if im.opts.KeepSourceNumbering {
		cp := *l
		cp.ID = im.dst.Lists().NewID()
		dh = im.dst.Lists().Add(cp)
	} else if existing, ok := im.dst.Lists().FindByID(l.ID); ok && im.dst.Lists().Get(existing).Levels == l.Levels {
		dh = existing
	} else {
		dh = im.dst.Lists().Add(*l)
	}
	im.lists[h] = dh
	return dh
}

// SameStyle reports whether two styles, possibly from different
// collections, have equal definitions: type, formatting, and the names
// of their basedOn and next styles.
func SameStyle(ac *doctree.StyleCollection, a doctree.StyleHandle, bc *doctree.StyleCollection, b doctree.StyleHandle) bool {
	sa, sb := ac.Get(a), bc.Get(b)
	if sa == nil || sb == nil {
		return sa == sb
	}
	return sa.Type == sb.Type &&
		sa.Font == sb.Font &&
		sa.Paragraph == sb.Paragraph &&
		styleName(ac, sa.BasedOn) == styleName(bc, sb.BasedOn) &&
		styleName(ac, sa.Next) == styleName(bc, sb.Next)
}

func styleName(c *doctree.StyleCollection, h doctree.StyleHandle) string {
	if s := c.Get(h); s != nil {
		return s.Name
	}
	return ""
}

// AppendDocument imports every section of src to the end of dst. The
// first appended section starts on a new page.
func AppendDocument(dst, src *doctree.Document, mode ImportFormatMode, opts ImportOptions) error {
	im := NewImporter(src, dst, mode, opts)
	first := true
	for _, s := range src.Sections() {
		c, err := im.Import(s.Node)
		if err != nil {
			return err
		}
		if first {
			c.Data().(*doctree.Section).PageSetup.SectionStart = doctree.SectionNewPage
			first = false
		}
		if err := dst.AppendChild(c); err != nil {
			return err
		}
	}
	return nil
}
