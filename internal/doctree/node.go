package doctree

import (
	"fmt"
	"iter"
)

// NodeType tags the variant of a Node.
type NodeType int

const (
	DocumentNode NodeType = iota
	SectionNode
	BodyNode
	HeaderFooterNode
	ParagraphNode
	RunNode
	TableNode
	RowNode
	CellNode
	FieldStartNode
	FieldSeparatorNode
	FieldEndNode
	BookmarkStartNode
	BookmarkEndNode
	CommentNode
	CommentRangeStartNode
	CommentRangeEndNode
	ShapeNode
	FootnoteNode
)

var nodeTypeNames = [...]string{
	DocumentNode:          "Document",
	SectionNode:           "Section",
	BodyNode:              "Body",
	HeaderFooterNode:      "HeaderFooter",
	ParagraphNode:         "Paragraph",
	RunNode:               "Run",
	TableNode:             "Table",
	RowNode:               "Row",
	CellNode:              "Cell",
	FieldStartNode:        "FieldStart",
	FieldSeparatorNode:    "FieldSeparator",
	FieldEndNode:          "FieldEnd",
	BookmarkStartNode:     "BookmarkStart",
	BookmarkEndNode:       "BookmarkEnd",
	CommentNode:           "Comment",
	CommentRangeStartNode: "CommentRangeStart",
	CommentRangeEndNode:   "CommentRangeEnd",
	ShapeNode:             "Shape",
	FootnoteNode:          "Footnote",
}

func (t NodeType) String() string {
	if t >= 0 && int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// IsComposite reports whether nodes of this type may own children.
func (t NodeType) IsComposite() bool {
	switch t {
	case DocumentNode, SectionNode, BodyNode, HeaderFooterNode, ParagraphNode,
		TableNode, RowNode, CellNode, CommentNode, ShapeNode, FootnoteNode:
		return true
	}
	return false
}

// IsInline reports whether nodes of this type live inside a paragraph.
func (t NodeType) IsInline() bool {
	switch t {
	case RunNode, FieldStartNode, FieldSeparatorNode, FieldEndNode,
		BookmarkStartNode, BookmarkEndNode, CommentNode,
		CommentRangeStartNode, CommentRangeEndNode, ShapeNode, FootnoteNode:
		return true
	}
	return false
}

func canContain(parent, child NodeType) bool {
	switch parent {
	case DocumentNode:
		return child == SectionNode
	case SectionNode:
		return child == BodyNode || child == HeaderFooterNode
	case BodyNode, HeaderFooterNode, CellNode, CommentNode, FootnoteNode, ShapeNode:
		return child == ParagraphNode || child == TableNode
	case ParagraphNode:
		return child.IsInline()
	case TableNode:
		return child == RowNode
	case RowNode:
		return child == CellNode
	}
	return false
}

// Payload is the variant-specific data carried by a Node. The set of
// implementations is closed to this package.
type Payload interface {
	kind() NodeType
	bind(*Node)
	copyPayload() Payload
}

// nodeLink is embedded by every payload so the payload exposes its node
// and, through it, the tree operations.
type nodeLink struct {
	*Node
}

func (l *nodeLink) bind(n *Node) { l.Node = n }

// Node is an element of a document tree. Links are maintained
// incrementally so sibling and parent navigation is O(1).
type Node struct {
	typ  NodeType
	doc  *Document
	data Payload

	parent      *Node
	firstChild  *Node
	lastChild   *Node
	prevSibling *Node
	nextSibling *Node
	childCount  int
}

func newNode(doc *Document, p Payload) *Node {
	n := &Node{typ: p.kind(), doc: doc, data: p}
	p.bind(n)
	return n
}

func (n *Node) Type() NodeType         { return n.typ }
func (n *Node) Document() *Document    { return n.doc }
func (n *Node) Data() Payload          { return n.data }
func (n *Node) ParentNode() *Node      { return n.parent }
func (n *Node) FirstChild() *Node      { return n.firstChild }
func (n *Node) LastChild() *Node       { return n.lastChild }
func (n *Node) NextSibling() *Node     { return n.nextSibling }
func (n *Node) PreviousSibling() *Node { return n.prevSibling }
func (n *Node) ChildCount() int        { return n.childCount }
func (n *Node) IsComposite() bool      { return n.typ.IsComposite() }
func (n *Node) HasChildNodes() bool    { return n.firstChild != nil }
func (n *Node) String() string         { return n.typ.String() }

// ChildNodes returns a snapshot of the direct children.
func (n *Node) ChildNodes() []*Node {
	out := make([]*Node, 0, n.childCount)
	for c := n.firstChild; c != nil; c = c.nextSibling {
		out = append(out, c)
	}
	return out
}

// Children iterates the direct children. The next sibling is read
// before yielding, so the yielded node may be removed.
func (n *Node) Children() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for c := n.firstChild; c != nil; {
			next := c.nextSibling
			if !yield(c) {
				return
			}
			c = next
		}
	}
}

// Index returns the position of n among its siblings, or -1.
func (n *Node) Index() int {
	if n.parent == nil {
		return -1
	}
	i := 0
	for c := n.parent.firstChild; c != nil; c = c.nextSibling {
		if c == n {
			return i
		}
		i++
	}
	return -1
}

// Ancestor returns the nearest ancestor of the given type.
func (n *Node) Ancestor(t NodeType) *Node {
	for p := n.parent; p != nil; p = p.parent {
		if p.typ == t {
			return p
		}
	}
	return nil
}

// IsAncestorOf reports whether n is a proper ancestor of other.
func (n *Node) IsAncestorOf(other *Node) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

// InDocument reports whether n is reachable from its document root.
func (n *Node) InDocument() bool {
	root := n.doc.Node
	for p := n; p != nil; p = p.parent {
		if p == root {
			return true
		}
	}
	return false
}

// AppendChild attaches child as the last child of n.
func (n *Node) AppendChild(child *Node) error {
	if err := n.checkAttach(child); err != nil {
		return err
	}
	n.attach(child, nil)
	n.doc.trackInserted(child)
	return nil
}

// PrependChild attaches child as the first child of n.
func (n *Node) PrependChild(child *Node) error {
	if err := n.checkAttach(child); err != nil {
		return err
	}
	n.attach(child, n.firstChild)
	n.doc.trackInserted(child)
	return nil
}

// InsertBefore attaches child immediately before ref, which must be a
// child of n. A nil ref appends.
func (n *Node) InsertBefore(child, ref *Node) error {
	if err := n.checkAttach(child); err != nil {
		return err
	}
	if ref != nil && ref.parent != n {
		return fmt.Errorf("%w: reference %s is not a child of %s", ErrInvalidTreeOperation, ref.typ, n.typ)
	}
	n.attach(child, ref)
	n.doc.trackInserted(child)
	return nil
}

// InsertAfter attaches child immediately after ref, which must be a
// child of n. A nil ref prepends.
func (n *Node) InsertAfter(child, ref *Node) error {
	if err := n.checkAttach(child); err != nil {
		return err
	}
	if ref == nil {
		n.attach(child, n.firstChild)
	} else {
		if ref.parent != n {
			return fmt.Errorf("%w: reference %s is not a child of %s", ErrInvalidTreeOperation, ref.typ, n.typ)
		}
		n.attach(child, ref.nextSibling)
	}
	n.doc.trackInserted(child)
	return nil
}

// RemoveChild detaches child from n.
func (n *Node) RemoveChild(child *Node) error {
	if child == nil || child.parent != n {
		return fmt.Errorf("%w: node is not a child of %s", ErrInvalidTreeOperation, n.typ)
	}
	return child.Remove()
}

// Remove detaches n from its parent. While the owning document tracks
// revisions, runs, paragraphs, rows and inline markers are marked as
// deleted instead of being detached.
func (n *Node) Remove() error {
	if n.parent == nil {
		return fmt.Errorf("%w: %s is not attached", ErrInvalidTreeOperation, n.typ)
	}
	if n.doc.trackRemoved(n) {
		return nil
	}
	n.parent.unlinkChild(n)
	return nil
}

// RemoveAllChildren detaches every child of n without tracking.
func (n *Node) RemoveAllChildren() {
	for c := n.firstChild; c != nil; {
		next := c.nextSibling
		n.unlinkChild(c)
		c = next
	}
}

func (n *Node) checkAttach(child *Node) error {
	switch {
	case child == nil:
		return fmt.Errorf("%w: nil child", ErrInvalidTreeOperation)
	case child.parent != nil:
		return fmt.Errorf("%w: %s already has a parent", ErrInvalidTreeOperation, child.typ)
	case child.doc != n.doc:
		return fmt.Errorf("%w: %s belongs to another document", ErrInvalidTreeOperation, child.typ)
	case child == n || child.IsAncestorOf(n):
		return fmt.Errorf("%w: attaching %s would create a cycle", ErrInvalidTreeOperation, child.typ)
	case !canContain(n.typ, child.typ):
		return fmt.Errorf("%w: %s cannot contain %s", ErrInvalidTreeOperation, n.typ, child.typ)
	}
	return nil
}

// attach inserts child before ref (append when ref is nil). No checks.
func (n *Node) attach(child, ref *Node) {
	child.parent = n
	if ref == nil {
		child.prevSibling = n.lastChild
		child.nextSibling = nil
		if n.lastChild != nil {
			n.lastChild.nextSibling = child
		} else {
			n.firstChild = child
		}
		n.lastChild = child
	} else {
		child.nextSibling = ref
		child.prevSibling = ref.prevSibling
		if ref.prevSibling != nil {
			ref.prevSibling.nextSibling = child
		} else {
			n.firstChild = child
		}
		ref.prevSibling = child
	}
	n.childCount++
}

func (n *Node) unlinkChild(child *Node) {
	if child.prevSibling != nil {
		child.prevSibling.nextSibling = child.nextSibling
	} else {
		n.firstChild = child.nextSibling
	}
	if child.nextSibling != nil {
		child.nextSibling.prevSibling = child.prevSibling
	} else {
		n.lastChild = child.prevSibling
	}
	child.parent = nil
	child.prevSibling = nil
	child.nextSibling = nil
	n.childCount--
}

// detach unlinks n from its parent, if any, without tracking.
func (n *Node) detach() {
	if n.parent != nil {
		n.parent.unlinkChild(n)
	}
}

// Descendants iterates the subtree below n in document order,
// excluding n itself.
func (n *Node) Descendants() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for c := n.firstChild; c != nil; c = c.nextSibling {
			if !c.walk(yield) {
				return
			}
		}
	}
}

func (n *Node) walk(yield func(*Node) bool) bool {
	if !yield(n) {
		return false
	}
	for c := n.firstChild; c != nil; c = c.nextSibling {
		if !c.walk(yield) {
			return false
		}
	}
	return true
}

// NodesOfType returns a snapshot of descendants with the given type in
// document order, safe to mutate while iterating.
func (n *Node) NodesOfType(t NodeType) []*Node {
	var out []*Node
	for d := range n.Descendants() {
		if d.typ == t {
			out = append(out, d)
		}
	}
	return out
}

// NextInOrder returns the node following n in a preorder walk bounded
// by root, or nil.
func (n *Node) NextInOrder(root *Node) *Node {
	if n.firstChild != nil {
		return n.firstChild
	}
	for p := n; p != nil && p != root; p = p.parent {
		if p.nextSibling != nil {
			return p.nextSibling
		}
	}
	return nil
}

// PrecedesInOrder reports whether n comes before other in document order.
func (n *Node) PrecedesInOrder(other *Node) bool {
	if n == other {
		return false
	}
	pa, pb := n.pathFromRoot(), other.pathFromRoot()
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			return pa[i].Index() < pb[i].Index()
		}
	}
	return len(pa) < len(pb)
}

func (n *Node) pathFromRoot() []*Node {
	var path []*Node
	for p := n; p != nil; p = p.parent {
		path = append(path, p)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
