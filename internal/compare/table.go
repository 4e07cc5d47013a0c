package compare

import "github.com/dgallion1/docforge/internal/doctree"

// compareTable aligns rows by content. Aligned rows with the same number
// of cells are compared cell by cell; other rows are deleted and
// inserted whole.
func (c *comparer) compareTable(o, r *doctree.Node) error {
	orows, rrows := doctree.ChildrenOf[*doctree.Row](o), doctree.ChildrenOf[*doctree.Row](r)
	okeys, rkeys := make([]string, len(orows)), make([]string, len(rrows))
	for i, row := range orows {
		okeys[i] = c.rowKey(row.Node)
	}
	for i, row := range rrows {
		rkeys[i] = c.rowKey(row.Node)
	}

	var dels, ins []int
	gap := func(anchor *doctree.Node) error {
		i, j := 0, 0
		at := func() *doctree.Node {
			if i < len(dels) {
				return orows[dels[i]].Node
			}
			return anchor
		}
		for i < len(dels) || j < len(ins) {
			switch {
			case i < len(dels) && j < len(ins) && sameShape(orows[dels[i]], rrows[ins[j]]):
				if err := c.compareRow(orows[dels[i]], rrows[ins[j]]); err != nil {
					return err
				}
				i++
				j++
			case i < len(dels):
				c.markAll(orows[dels[i]].Node, doctree.Deletion, 0)
				i++
			default:
				cl, err := c.im.Import(rrows[ins[j]].Node)
				if err != nil {
					return err
				}
				if err := o.InsertBefore(cl, at()); err != nil {
					return err
				}
				c.markAll(cl, doctree.Insertion, 0)
				j++
			}
		}
		dels, ins = dels[:0], ins[:0]
		return nil
	}

	for _, x := range diff(okeys, rkeys) {
		switch x.kind {
		case opDelete:
			dels = append(dels, x.a)
		case opInsert:
			ins = append(ins, x.b)
		case opKeep:
			if err := gap(orows[x.a].Node); err != nil {
				return err
			}
			if err := c.compareRow(orows[x.a], rrows[x.b]); err != nil {
				return err
			}
		}
	}
	return gap(nil)
}

func sameShape(a, b *doctree.Row) bool {
	return a.ChildCount() == b.ChildCount()
}

func (c *comparer) compareRow(o, r *doctree.Row) error {
	oc, rc := o.Cells(), r.Cells()
	for i := range min(len(oc), len(rc)) {
		if err := c.compareBlocks(oc[i].Node, rc[i].Node, false); err != nil {
			return err
		}
	}
	return nil
}
