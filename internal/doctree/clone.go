package doctree

// HandleMapper translates side-table handles when nodes move between
// documents.
type HandleMapper interface {
	MapStyle(StyleHandle) StyleHandle
	MapList(ListHandle) ListHandle
}

// Clone returns an unattached copy of n owned by the same document.
// A deep clone copies the whole subtree.
func (n *Node) Clone(deep bool) *Node {
	if n.typ == DocumentNode {
		return n.doc.Clone().Node
	}
	return n.cloneInto(n.doc, deep, nil)
}

// CloneTo returns an unattached copy of n owned by dst, with handles
// translated by m. A nil mapper clears handles that cannot be carried.
func (n *Node) CloneTo(dst *Document, deep bool, m HandleMapper) *Node {
	if n.typ == DocumentNode {
		return nil
	}
	if m == nil && dst != n.doc {
		m = clearMapper{}
	}
	return n.cloneInto(dst, deep, m)
}

func (n *Node) cloneInto(dst *Document, deep bool, m HandleMapper) *Node {
	p := n.data.copyPayload()
	if m != nil {
		switch v := p.(type) {
		case *Paragraph:
			v.Style = m.MapStyle(v.Style)
			v.ListFormat.List = m.MapList(v.ListFormat.List)
			if v.ListFormat.List == 0 {
				v.ListFormat.Level = 0
			}
		case *Run:
			v.Style = m.MapStyle(v.Style)
		case *Table:
			v.Style = m.MapStyle(v.Style)
		}
	}
	c := newNode(dst, p)
	if deep {
		for ch := n.firstChild; ch != nil; ch = ch.nextSibling {
			c.attach(ch.cloneInto(dst, true, m), nil)
		}
	}
	return c
}

type clearMapper struct{}

func (clearMapper) MapStyle(StyleHandle) StyleHandle { return 0 }
func (clearMapper) MapList(ListHandle) ListHandle    { return 0 }
