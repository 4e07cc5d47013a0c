package doctree

import (
	"fmt"
	"time"
)

// RevisionType classifies a tracked change.
type RevisionType int

const (
	NoRevision RevisionType = iota
	Insertion
	Deletion
	FormatChange
	MoveFrom
	MoveTo
)

var revisionTypeNames = [...]string{"none", "insertion", "deletion", "format", "move-from", "move-to"}

func (t RevisionType) String() string {
	if t < 0 || int(t) >= len(revisionTypeNames) {
		return fmt.Sprintf("RevisionType(%d)", int(t))
	}
	return revisionTypeNames[t]
}

// RevisionMark is the insert/delete/move state carried by a revisable
// node. MoveID links the two halves of a move.
type RevisionMark struct {
	Type   RevisionType
	Author string
	Date   time.Time
	MoveID int
}

func (m RevisionMark) IsZero() bool { return m.Type == NoRevision }

// FormatRevision keeps the formatting that was in effect before a
// tracked format change.
type FormatRevision[T any] struct {
	Author string
	Date   time.Time
	Old    T
}

func (f *FormatRevision[T]) clone() *FormatRevision[T] {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

type revisable interface {
	Revision() RevisionMark
	SetRevision(RevisionMark)
}

// RevisionOf returns the revision mark of a node that can carry one.
func RevisionOf(n *Node) (RevisionMark, bool) {
	r, ok := n.data.(revisable)
	if !ok {
		return RevisionMark{}, false
	}
	return r.Revision(), true
}

// SetRevision marks a node. Only runs, paragraph marks, rows, shapes and
// field markers carry revisions.
func SetRevision(n *Node, m RevisionMark) error {
	r, ok := n.data.(revisable)
	if !ok {
		return fmt.Errorf("%w: %s cannot carry a revision", ErrTypeMismatch, n.typ)
	}
	r.SetRevision(m)
	return nil
}

type trackState struct {
	author string
	date   time.Time
}

// StartTrackRevisions makes subsequent edits through the tree API record
// revisions attributed to author at the given time. A zero time uses
// the current time.
func (d *Document) StartTrackRevisions(author string, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	d.tracking = &trackState{author: author, date: at}
}

func (d *Document) StopTrackRevisions()       { d.tracking = nil }
func (d *Document) IsTrackingRevisions() bool { return d.tracking != nil }

// SuspendTracking turns tracking off until the returned function runs.
func (d *Document) SuspendTracking() (resume func()) {
	saved := d.tracking
	d.tracking = nil
	return func() { d.tracking = saved }
}

func (d *Document) trackMark(t RevisionType) RevisionMark {
	return RevisionMark{Type: t, Author: d.tracking.author, Date: d.tracking.date}
}

// trackInserted marks freshly attached content as inserted.
func (d *Document) trackInserted(n *Node) {
	if d.tracking == nil || !n.InDocument() {
		return
	}
	mark := d.trackMark(Insertion)
	n.walk(func(c *Node) bool {
		if r, ok := c.data.(revisable); ok && r.Revision().IsZero() {
			r.SetRevision(mark)
		}
		return true
	})
}

// trackRemoved turns a removal into a deletion mark. It reports whether
// the removal was absorbed.
func (d *Document) trackRemoved(n *Node) bool {
	if d.tracking == nil || !n.InDocument() {
		return false
	}
	switch n.typ {
	case RunNode, FieldStartNode, FieldSeparatorNode, FieldEndNode, ShapeNode:
		d.markDeleted(n)
		return true
	case ParagraphNode:
		p := n.data.(*Paragraph)
		if p.rev.Type == Insertion {
			n.detach()
			return true
		}
		for c := range n.Children() {
			d.markDeleted(c)
		}
		p.rev = d.trackMark(Deletion)
		return true
	case RowNode, TableNode:
		rows := []*Node{n}
		if n.typ == TableNode {
			rows = n.ChildNodes()
		}
		for _, row := range rows {
			r := row.data.(*Row)
			if r.rev.Type == Insertion {
				row.detach()
				continue
			}
			r.rev = d.trackMark(Deletion)
			for _, p := range row.NodesOfType(ParagraphNode) {
				d.trackRemoved(p)
			}
		}
		if n.typ == TableNode && n.firstChild == nil {
			n.detach()
		}
		return true
	}
	return false
}

func (d *Document) markDeleted(n *Node) {
	r, ok := n.data.(revisable)
	if !ok {
		return
	}
	switch r.Revision().Type {
	case Insertion:
		n.detach()
	case Deletion, MoveFrom:
	default:
		r.SetRevision(d.trackMark(Deletion))
	}
}

// Revision is one tracked change found in a document.
type Revision struct {
	Type   RevisionType
	Author string
	Date   time.Time
	MoveID int
	node   *Node
}

// Node returns the node the revision is attached to.
func (r *Revision) Node() *Node { return r.node }

// Revisions enumerates every tracked change by a full scan in document
// order. Format changes are reported separately from the insert or
// delete state of the same node.
func (d *Document) Revisions() []*Revision {
	var out []*Revision
	for n := range d.Descendants() {
		if rv, ok := n.data.(revisable); ok {
			if m := rv.Revision(); !m.IsZero() {
				out = append(out, &Revision{Type: m.Type, Author: m.Author, Date: m.Date, MoveID: m.MoveID, node: n})
			}
		}
		switch p := n.data.(type) {
		case *Run:
			if p.fmtRev != nil {
				out = append(out, &Revision{Type: FormatChange, Author: p.fmtRev.Author, Date: p.fmtRev.Date, node: n})
			}
		case *Paragraph:
			if p.fmtRev != nil {
				out = append(out, &Revision{Type: FormatChange, Author: p.fmtRev.Author, Date: p.fmtRev.Date, node: n})
			}
		}
	}
	return out
}

// HasRevisions reports whether any tracked change exists.
func (d *Document) HasRevisions() bool {
	for n := range d.Descendants() {
		if rv, ok := n.data.(revisable); ok && !rv.Revision().IsZero() {
			return true
		}
		switch p := n.data.(type) {
		case *Run:
			if p.fmtRev != nil {
				return true
			}
		case *Paragraph:
			if p.fmtRev != nil {
				return true
			}
		}
	}
	return false
}

// Accept applies the change. Accepting either half of a move accepts the
// whole move.
func (r *Revision) Accept() error { return r.resolve(true) }

// Reject undoes the change. Rejecting either half of a move rejects the
// whole move.
func (r *Revision) Reject() error { return r.resolve(false) }

func (r *Revision) resolve(accept bool) error {
	n := r.node
	if n.parent == nil {
		return fmt.Errorf("%w: revision node is detached", ErrNotFound)
	}
	d := n.doc
	saved := d.tracking
	d.tracking = nil
	defer func() { d.tracking = saved }()

	if r.Type == FormatChange {
		resolveFormat(n, accept)
		return nil
	}
	if (r.Type == MoveFrom || r.Type == MoveTo) && r.MoveID != 0 {
		var group []*Node
		for c := range d.Descendants() {
			if m, ok := RevisionOf(c); ok && (m.Type == MoveFrom || m.Type == MoveTo) && m.MoveID == r.MoveID {
				group = append(group, c)
			}
		}
		resolveMarks(group, accept)
		return nil
	}
	resolveMarks([]*Node{n}, accept)
	return nil
}

// AcceptAllRevisions applies every tracked change. Afterwards the
// document reports no revisions.
func (d *Document) AcceptAllRevisions() error { return d.resolveAll(true) }

// RejectAllRevisions undoes every tracked change.
func (d *Document) RejectAllRevisions() error { return d.resolveAll(false) }

func (d *Document) resolveAll(accept bool) error {
	saved := d.tracking
	d.tracking = nil
	defer func() { d.tracking = saved }()

	var marked []*Node
	for n := range d.Descendants() {
		resolveFormat(n, accept)
		if m, ok := RevisionOf(n); ok && !m.IsZero() {
			marked = append(marked, n)
		}
	}
	resolveMarks(marked, accept)
	d.removeEmptySections()
	return nil
}

func resolveFormat(n *Node, accept bool) {
	switch p := n.data.(type) {
	case *Run:
		if p.fmtRev != nil && !accept {
			p.Format = p.fmtRev.Old
		}
		p.fmtRev = nil
	case *Paragraph:
		if p.fmtRev != nil && !accept {
			p.Format = p.fmtRev.Old
		}
		p.fmtRev = nil
	}
}

// resolveMarks applies accept or reject to insert/delete/move marks.
// Inline content goes first, then rows, then paragraph marks, so a
// paragraph merge only moves content that survives.
func resolveMarks(nodes []*Node, accept bool) {
	var rows, paras []*Node
	for _, n := range nodes {
		switch n.typ {
		case ParagraphNode:
			paras = append(paras, n)
		case RowNode:
			rows = append(rows, n)
		default:
			resolveMark(n, accept)
		}
	}
	for _, n := range rows {
		resolveMark(n, accept)
	}
	for _, n := range paras {
		resolveMark(n, accept)
	}
}

func resolveMark(n *Node, accept bool) {
	r, ok := n.data.(revisable)
	if !ok {
		return
	}
	m := r.Revision()
	if m.IsZero() {
		return
	}
	r.SetRevision(RevisionMark{})
	keep := m.Type == Insertion || m.Type == MoveTo
	if !accept {
		keep = !keep
	}
	if keep || n.parent == nil {
		return
	}
	switch n.typ {
	case ParagraphNode:
		removeParagraphMark(n)
	case RowNode:
		table := n.parent
		n.detach()
		if table.firstChild == nil {
			table.detach()
		}
	default:
		n.detach()
	}
}

// removeParagraphMark joins a paragraph whose mark is removed with the
// following paragraph. An empty paragraph without a following paragraph
// is dropped unless it is the only block of a cell.
func removeParagraphMark(n *Node) {
	next := n.nextSibling
	if next != nil && next.typ == ParagraphNode {
		for c := n.lastChild; c != nil; {
			prev := c.prevSibling
			n.unlinkChild(c)
			next.attach(c, next.firstChild)
			c = prev
		}
		n.detach()
		return
	}
	if n.firstChild != nil {
		return
	}
	if n.parent.typ == CellNode && n.parent.childCount == 1 {
		return
	}
	n.detach()
}

func (d *Document) removeEmptySections() {
	if d.childCount <= 1 {
		return
	}
	for s := d.firstChild; s != nil; {
		next := s.nextSibling
		b := s.data.(*Section).Body()
		if (b == nil || b.firstChild == nil) && d.childCount > 1 {
			s.detach()
		}
		s = next
	}
}
