// Package mailmerge fills MERGEFIELD placeholders of a template
// document from a data source. Execute repeats the whole template per
// record; ExecuteWithRegions repeats the content between
// TableStart:Name and TableEnd:Name fields per record of the matching
// data, nesting to any depth.
package mailmerge

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

// CleanupOptions select what is removed after merging.
type CleanupOptions uint

const (
	// RemoveEmptyParagraphs drops paragraphs left empty after their merge
	// fields were filled or removed.
	RemoveEmptyParagraphs CleanupOptions = 1 << iota
	// RemoveUnusedRegions drops regions the data has no entry for.
	RemoveUnusedRegions
	// RemoveUnusedFields drops merge fields that received no value.
	RemoveUnusedFields
	// RemoveContainingFields replaces fields that contained merged fields,
	// such as IF, with their current result.
	RemoveContainingFields
	// RemoveEmptyTableRows drops table rows left without text after
	// merging.
	RemoveEmptyTableRows
)

// Options tune a merge.
type Options struct {
	Cleanup CleanupOptions `json:"cleanup,omitempty"`
	// TrimWhitespace trims leading and trailing spaces of string values.
	TrimWhitespace bool         `json:"trim_whitespace,omitempty"`
	Logger         *slog.Logger `json:"-"`
}

var discard = slog.New(slog.DiscardHandler)

func (o Options) log() *slog.Logger {
	if o.Logger == nil {
		return discard
	}
	return o.Logger
}

// ErrRegion reports a malformed region: an end without a start, a
// mismatched name, or a start and end in different stories.
var ErrRegion = errors.New("mailmerge: malformed region")

const (
	regionStart = "TableStart:"
	regionEnd   = "TableEnd:"
	imagePrefix = "Image:"
)

// Execute merges every record into its own copy of doc and returns the
// copies joined, each starting on a new page. With no records the
// result is one copy with every field treated as missing. doc is not
// modified.
func Execute(doc *doctree.Document, ds *DataSource, opts Options) (*doctree.Document, error) {
	recs := ds.Records
	if len(recs) == 0 {
		recs = []Record{{}}
	}
	var out *doctree.Document
	for i, rec := range recs {
		cp := doc.Clone()
		m := newMerger(opts)
		if err := m.fill([]*doctree.Node{cp.Node}, &scope{rec: rec}, false); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if err := m.finish(cp); err != nil {
			return nil, err
		}
		if out == nil {
			out = cp
			continue
		}
		if err := content.AppendDocument(out, cp, content.UseDestinationStyles, content.ImportOptions{}); err != nil {
			return nil, err
		}
	}
	opts.log().Debug("mail merge done", "records", len(ds.Records))
	return out, nil
}

// ExecuteWithRegions returns a copy of doc in which every region named
// ds.Name is repeated once per record. Nested regions take their
// records from the field of the same name in the enclosing record.
// Merge fields outside any region are left alone.
func ExecuteWithRegions(doc *doctree.Document, ds *DataSource, opts Options) (*doctree.Document, error) {
	cp := doc.Clone()
	m := newMerger(opts)
	m.root = ds
	for _, sec := range cp.Sections() {
		for story := range sec.Node.Children() {
			if err := m.regions(story.ChildNodes(), nil); err != nil {
				return nil, err
			}
		}
	}
	if err := m.finish(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

type merger struct {
	opts    Options
	root    *DataSource
	touched map[*doctree.Node]bool
	outer   map[*doctree.Field]bool
	merged  int
}

func newMerger(opts Options) *merger {
	return &merger{
		opts:    opts,
		touched: map[*doctree.Node]bool{},
		outer:   map[*doctree.Field]bool{},
	}
}

func (m *merger) has(c CleanupOptions) bool { return m.opts.Cleanup&c != 0 }

// mergeFieldName returns the name of a MERGEFIELD, or false.
func mergeFieldName(f *doctree.Field) (string, bool) {
	if f.Type() != doctree.FieldMergeField {
		return "", false
	}
	return doctree.MergeFieldName(f.Code())
}

// fieldsIn lists the fields inside nodes in document order.
func fieldsIn(nodes []*doctree.Node) ([]*doctree.Field, error) {
	var out []*doctree.Field
	for _, n := range nodes {
		fs, err := doctree.FieldsIn(n)
		if err != nil {
			return nil, err
		}
		out = append(out, fs...)
	}
	return out, nil
}

// fill merges the plain merge fields inside nodes from sc. With
// nested set, fields inside regions are left for those regions.
func (m *merger) fill(nodes []*doctree.Node, sc *scope, nested bool) error {
	fields, err := fieldsIn(nodes)
	if err != nil {
		return err
	}
	depth := 0
	for _, f := range fields {
		if f.Start.ParentNode() == nil {
			continue
		}
		name, ok := mergeFieldName(f)
		if !ok {
			continue
		}
		switch {
		case hasPrefixFold(name, regionStart):
			depth++
		case hasPrefixFold(name, regionEnd):
			depth--
		case nested && depth > 0:
		case hasPrefixFold(name, imagePrefix):
			v, ok := sc.lookup(name[len(imagePrefix):])
			if !ok {
				continue
			}
			if err := m.image(f, v); err != nil {
				return err
			}
		default:
			v, ok := sc.lookup(name)
			if !ok {
				continue
			}
			if s, isString := v.(string); isString && m.opts.TrimWhitespace {
				v = strings.TrimSpace(s)
			}
			m.markOuter(fields, f)
			if err := m.replace(f, formatValue(v, doctree.ParseFieldCode(f.Code()))); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// markOuter remembers the non-merge fields that enclose f.
func (m *merger) markOuter(fields []*doctree.Field, f *doctree.Field) {
	for _, o := range fields {
		if o == f || o.Type() == doctree.FieldMergeField || o.Start.ParentNode() == nil {
			continue
		}
		if o.Start.PrecedesInOrder(f.Start) && f.End.PrecedesInOrder(o.End) {
			m.outer[o] = true
		}
	}
}

func (m *merger) touch(f *doctree.Field) {
	if p := f.Start.ParentNode(); p != nil {
		m.touched[p] = true
	}
}

// replace swaps the field for a run holding text, formatted like the
// field's result.
func (m *merger) replace(f *doctree.Field, text string) error {
	m.touch(f)
	m.merged++
	if text != "" {
		r := doctree.NewRun(f.Start.Document(), text)
		r.Format, r.Style = resultFormat(f)
		if err := f.Start.ParentNode().InsertBefore(r.Node, f.Start); err != nil {
			return err
		}
	}
	return f.Remove()
}

func (m *merger) remove(f *doctree.Field) error {
	m.touch(f)
	return f.Remove()
}

func resultFormat(f *doctree.Field) (doctree.CharFormat, doctree.StyleHandle) {
	from := f.Start
	if f.Separator != nil {
		from = f.Separator
	}
	for n := from.NextSibling(); n != nil && n != f.End; n = n.NextSibling() {
		if r, ok := n.Data().(*doctree.Run); ok {
			return r.Format, r.Style
		}
	}
	return doctree.CharFormat{}, 0
}

// image replaces an Image: field with the picture in v: raw bytes,
// base64 text, or a base64 data URL.
func (m *merger) image(f *doctree.Field, v any) error {
	var data []byte
	switch t := v.(type) {
	case []byte:
		data = t
	case string:
		s := strings.TrimSpace(t)
		if _, rest, ok := strings.Cut(s, ";base64,"); ok && strings.HasPrefix(s, "data:") {
			s = rest
		}
		d, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("image field %s: %w", f.Code(), err)
		}
		data = d
	case nil:
		m.merged++
		return m.remove(f)
	default:
		return fmt.Errorf("image field %s: unsupported value %T", f.Code(), v)
	}
	shape, err := doctree.NewImageShape(f.Start.Document(), data)
	if err != nil {
		return fmt.Errorf("image field %s: %w", f.Code(), err)
	}
	if err := f.Start.ParentNode().InsertBefore(shape.Node, f.Start); err != nil {
		return err
	}
	m.merged++
	return m.remove(f)
}

// region is a run of sibling blocks or table rows framed by a matching
// pair of region markers.
type region struct {
	name       string
	start, end *doctree.Field
	nodes      []*doctree.Node
}

// findRegions returns the outermost regions inside nodes.
func findRegions(nodes []*doctree.Node) ([]region, error) {
	fields, err := fieldsIn(nodes)
	if err != nil {
		return nil, err
	}
	var out []region
	var stack []string
	var open *doctree.Field
	for _, f := range fields {
		name, ok := mergeFieldName(f)
		if !ok {
			continue
		}
		switch {
		case hasPrefixFold(name, regionStart):
			if len(stack) == 0 {
				open = f
			}
			stack = append(stack, name[len(regionStart):])
		case hasPrefixFold(name, regionEnd):
			n := name[len(regionEnd):]
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: %s without start", ErrRegion, name)
			}
			if !strings.EqualFold(stack[len(stack)-1], n) {
				return nil, fmt.Errorf("%w: %s closes region %s", ErrRegion, name, stack[len(stack)-1])
			}
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				continue
			}
			span, err := regionNodes(open, f)
			if err != nil {
				return nil, fmt.Errorf("region %s: %w", n, err)
			}
			out = append(out, region{name: n, start: open, end: f, nodes: span})
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: region %s is not closed", ErrRegion, stack[len(stack)-1])
	}
	return out, nil
}

// regionNodes picks the sibling nodes a region covers: the rows between
// the markers when both sit in rows of one table, otherwise the
// shallowest sibling blocks that contain them.
func regionNodes(start, end *doctree.Field) ([]*doctree.Node, error) {
	sp, ep := start.Start.ParentNode(), end.End.ParentNode()
	sr, er := sp.Ancestor(doctree.RowNode), ep.Ancestor(doctree.RowNode)
	if sr != nil && er != nil && sr.ParentNode() == er.ParentNode() {
		return siblingsBetween(sr, er)
	}
	for x := sp; x != nil && x.ParentNode() != nil; x = x.ParentNode() {
		for y := ep; y != nil && y.ParentNode() != nil; y = y.ParentNode() {
			if x.ParentNode() == y.ParentNode() {
				return siblingsBetween(x, y)
			}
		}
	}
	return nil, fmt.Errorf("%w: start and end are in different stories", ErrRegion)
}

func siblingsBetween(a, b *doctree.Node) ([]*doctree.Node, error) {
	var out []*doctree.Node
	for n := a; n != nil; n = n.NextSibling() {
		out = append(out, n)
		if n == b {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: end precedes start", ErrRegion)
}

// regions expands every outermost region inside nodes. sc is nil at the
// top, where only regions named after the data source have data.
func (m *merger) regions(nodes []*doctree.Node, sc *scope) error {
	found, err := findRegions(nodes)
	if err != nil {
		return err
	}
	for _, rg := range found {
		var recs []Record
		var ok bool
		if sc == nil {
			ok = m.root != nil && strings.EqualFold(rg.name, m.root.Name)
			if ok {
				recs = m.root.Records
			}
		} else {
			recs, ok = sc.children(rg.name)
		}
		if !ok {
			if m.has(RemoveUnusedRegions) {
				if err := removeNodes(rg.nodes); err != nil {
					return err
				}
			}
			continue
		}
		anchor := rg.nodes[0]
		parent := anchor.ParentNode()
		for _, rec := range recs {
			copies := make([]*doctree.Node, len(rg.nodes))
			for i, n := range rg.nodes {
				copies[i] = n.Clone(true)
				if err := parent.InsertBefore(copies[i], anchor); err != nil {
					return err
				}
			}
			child := &scope{rec: rec, parent: sc}
			if err := m.stripMarkers(copies, rg.name); err != nil {
				return err
			}
			if err := m.fill(copies, child, true); err != nil {
				return err
			}
			if err := m.regions(copies, child); err != nil {
				return err
			}
		}
		m.opts.log().Debug("region merged", "region", rg.name, "records", len(recs))
		if err := removeNodes(rg.nodes); err != nil {
			return err
		}
	}
	return nil
}

// stripMarkers removes the first start and the last end marker of the
// named region inside copies.
func (m *merger) stripMarkers(copies []*doctree.Node, name string) error {
	fields, err := fieldsIn(copies)
	if err != nil {
		return err
	}
	var first, last *doctree.Field
	for _, f := range fields {
		n, ok := mergeFieldName(f)
		if !ok {
			continue
		}
		if first == nil && strings.EqualFold(n, regionStart+name) {
			first = f
		}
		if strings.EqualFold(n, regionEnd+name) {
			last = f
		}
	}
	for _, f := range []*doctree.Field{first, last} {
		if f != nil && f.Start.ParentNode() != nil {
			if err := m.remove(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeNodes detaches nodes, dropping a table left without rows.
func removeNodes(nodes []*doctree.Node) error {
	for _, n := range nodes {
		parent := n.ParentNode()
		if parent == nil {
			continue
		}
		if err := n.Remove(); err != nil {
			return err
		}
		if n.Type() == doctree.RowNode && !parent.HasChildNodes() {
			if err := parent.Remove(); err != nil {
				return err
			}
		}
	}
	return nil
}

// finish applies the cleanup options to the merged document.
func (m *merger) finish(doc *doctree.Document) error {
	fields, err := doc.Fields()
	if err != nil {
		return err
	}
	if m.has(RemoveUnusedFields) {
		for _, f := range fields {
			if f.Start.ParentNode() == nil {
				continue
			}
			if _, ok := mergeFieldName(f); ok {
				if err := m.remove(f); err != nil {
					return err
				}
			}
		}
	}
	if m.has(RemoveContainingFields) {
		for f := range m.outer {
			if f.Start.ParentNode() == nil || f.End.ParentNode() == nil {
				continue
			}
			if err := f.Unlink(); err != nil {
				return err
			}
		}
	}
	if m.has(RemoveEmptyTableRows) {
		for p := range m.touched {
			row := p.Ancestor(doctree.RowNode)
			if row == nil || row.ParentNode() == nil || !blank(row) {
				continue
			}
			if err := removeNodes([]*doctree.Node{row}); err != nil {
				return err
			}
		}
	}
	m.opts.log().Debug("merge fields filled", "count", m.merged)
	if m.has(RemoveEmptyParagraphs) {
		for p := range m.touched {
			parent := p.ParentNode()
			if parent == nil || !p.InDocument() || parent.ChildCount() == 1 || !blank(p) {
				continue
			}
			if err := p.Remove(); err != nil {
				return err
			}
		}
	}
	return nil
}

// blank reports whether n holds no text and no shapes.
func blank(n *doctree.Node) bool {
	if strings.TrimSpace(content.PlainText(n)) != "" {
		return false
	}
	return len(n.NodesOfType(doctree.ShapeNode)) == 0
}
