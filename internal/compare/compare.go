// Package compare marks up one document with the tracked changes that
// turn it into another. Accepting every revision afterwards yields the
// text of the revised document; rejecting them restores the original.
package compare

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/cases"

	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

// ErrRevisionConflict is returned when either input already carries
// tracked changes.
var ErrRevisionConflict = errors.New("documents to compare must not contain revisions")

// Granularity is the unit of text comparison inside paragraphs.
type Granularity int

const (
	WordLevel Granularity = iota
	CharLevel
)

// Options select what counts as a difference.
type Options struct {
	Granularity      Granularity `json:"granularity,omitempty"`
	IgnoreFormatting bool        `json:"ignore_formatting,omitempty"`
	// IgnoreHeadersAndFooters leaves headers and footers of the original
	// untouched.
	IgnoreHeadersAndFooters bool `json:"ignore_headers_and_footers,omitempty"`
	IgnoreCaseChanges       bool `json:"ignore_case_changes,omitempty"`
	// IgnoreTables leaves tables of the original untouched and skips
	// tables of the revised document.
	IgnoreTables   bool `json:"ignore_tables,omitempty"`
	IgnoreFields   bool `json:"ignore_fields,omitempty"`
	IgnoreComments bool `json:"ignore_comments,omitempty"`
	// IgnoreTextboxes treats all text boxes as equal.
	IgnoreTextboxes bool `json:"ignore_textboxes,omitempty"`
	IgnoreFootnotes bool `json:"ignore_footnotes,omitempty"`
	// DisableMoves reports moved paragraphs as a deletion plus an
	// insertion instead of a linked move pair.
	DisableMoves bool `json:"disable_moves,omitempty"`
}

// pairThreshold is the minimum token similarity for two paragraphs in a
// changed stretch to be compared word by word rather than replaced.
const pairThreshold = 0.5

type comparer struct {
	orig   *doctree.Document
	im     *content.Importer
	author string
	at     time.Time
	opts   Options
	fold   cases.Caser
	moves  int
}

// Compare annotates original with revisions by author at the given time
// so that accepting them all turns its text into revised's. revised is
// not modified.
func Compare(original, revised *doctree.Document, author string, at time.Time, opts Options) error {
	if original.HasRevisions() || revised.HasRevisions() {
		return ErrRevisionConflict
	}
	if at.IsZero() {
		at = time.Now()
	}
	resume := original.SuspendTracking()
	defer resume()

	c := &comparer{
		orig:   original,
		im:     content.NewImporter(revised, original, content.UseDestinationStyles, content.ImportOptions{}),
		author: author,
		at:     at.UTC().Truncate(time.Second),
		opts:   opts,
		fold:   cases.Fold(),
	}

	os, rs := original.Sections(), revised.Sections()
	for i := range min(len(os), len(rs)) {
		if err := c.compareSection(os[i], rs[i]); err != nil {
			return err
		}
	}
	for _, s := range rs[min(len(os), len(rs)):] {
		cl, err := c.im.Import(s.Node)
		if err != nil {
			return err
		}
		if err := original.AppendChild(cl); err != nil {
			return err
		}
		c.markAll(cl, doctree.Insertion, 0)
	}
	for _, s := range os[min(len(os), len(rs)):] {
		c.markAll(s.Node, doctree.Deletion, 0)
	}
	return nil
}

func (c *comparer) mark(t doctree.RevisionType, moveID int) doctree.RevisionMark {
	return doctree.RevisionMark{Type: t, Author: c.author, Date: c.at, MoveID: moveID}
}

// markAll sets the mark on every node of the subtree that can carry one.
func (c *comparer) markAll(n *doctree.Node, t doctree.RevisionType, moveID int) {
	m := c.mark(t, moveID)
	_ = doctree.SetRevision(n, m)
	for d := range n.Descendants() {
		_ = doctree.SetRevision(d, m)
	}
}

func (c *comparer) key(s string) string {
	if c.opts.IgnoreCaseChanges {
		return c.fold.String(s)
	}
	return s
}

func (c *comparer) compareSection(os, rs *doctree.Section) error {
	if err := c.compareBlocks(os.EnsureBody().Node, rs.EnsureBody().Node, true); err != nil {
		return err
	}
	if c.opts.IgnoreHeadersAndFooters {
		return nil
	}
	for t := doctree.HeaderPrimary; t <= doctree.FooterEven; t++ {
		oh, rh := os.HeaderFooter(t), rs.HeaderFooter(t)
		switch {
		case oh != nil && rh != nil:
			if err := c.compareBlocks(oh.Node, rh.Node, false); err != nil {
				return err
			}
		case rh != nil:
			cl, err := c.im.Import(rh.Node)
			if err != nil {
				return err
			}
			if err := os.AppendChild(cl); err != nil {
				return err
			}
			c.markAll(cl, doctree.Insertion, 0)
		case oh != nil:
			c.markAll(oh.Node, doctree.Deletion, 0)
		}
	}
	return nil
}

// block is a paragraph or table of a story with its comparison key.
type block struct {
	node  *doctree.Node
	key   string
	atoms []string
}

func (c *comparer) blocks(parent *doctree.Node) []block {
	var out []block
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch n.Type() {
		case doctree.ParagraphNode:
			atoms, _ := c.atoms(n)
			keys := atomKeys(atoms)
			out = append(out, block{node: n, key: "p" + joinKeys(keys), atoms: keys})
		case doctree.TableNode:
			if c.opts.IgnoreTables {
				continue
			}
			out = append(out, block{node: n, key: "t" + c.tableKey(n)})
		}
	}
	return out
}

func (c *comparer) tableKey(t *doctree.Node) string {
	var keys []string
	for _, row := range doctree.ChildrenOf[*doctree.Row](t) {
		keys = append(keys, c.rowKey(row.Node))
	}
	return joinKeys(keys)
}

func (c *comparer) rowKey(row *doctree.Node) string {
	var keys []string
	for _, cell := range doctree.ChildrenOf[*doctree.Cell](row) {
		var bk []string
		for _, b := range c.blocks(cell.Node) {
			bk = append(bk, b.key)
		}
		keys = append(keys, "c"+joinKeys(bk))
	}
	return joinKeys(keys)
}

func joinKeys(keys []string) string {
	n := 0
	for _, k := range keys {
		n += len(k) + 1
	}
	b := make([]byte, 0, n)
	for _, k := range keys {
		b = append(b, k...)
		b = append(b, 0x1e)
	}
	return string(b)
}

func blockKeys(bs []block) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.key
	}
	return out
}

// compareBlocks aligns the blocks of two stories and marks up the
// original one.
func (c *comparer) compareBlocks(orig, rev *doctree.Node, moves bool) error {
	ob, rb := c.blocks(orig), c.blocks(rev)
	ops := diff(blockKeys(ob), blockKeys(rb))

	movedFrom, movedTo := map[int]int{}, map[int]int{}
	if moves && !c.opts.DisableMoves {
		c.detectMoves(ops, ob, rb, movedFrom, movedTo)
	}

	var dels, ins []int
	for _, o := range ops {
		switch o.kind {
		case opDelete:
			dels = append(dels, o.a)
		case opInsert:
			ins = append(ins, o.b)
		case opKeep:
			if err := c.gap(orig, ob, rb, dels, ins, ob[o.a].node, movedFrom, movedTo); err != nil {
				return err
			}
			dels, ins = dels[:0], ins[:0]
			if err := c.pair(ob[o.a], rb[o.b]); err != nil {
				return err
			}
		}
	}
	return c.gap(orig, ob, rb, dels, ins, nil, movedFrom, movedTo)
}

// detectMoves pairs deleted and inserted paragraphs with equal,
// non-empty content.
func (c *comparer) detectMoves(ops []op, ob, rb []block, from, to map[int]int) {
	deleted := map[string][]int{}
	for _, o := range ops {
		if o.kind == opDelete && ob[o.a].node.Type() == doctree.ParagraphNode && len(ob[o.a].atoms) > 0 {
			deleted[ob[o.a].key] = append(deleted[ob[o.a].key], o.a)
		}
	}
	for _, o := range ops {
		if o.kind != opInsert {
			continue
		}
		cand := deleted[rb[o.b].key]
		if len(cand) == 0 {
			continue
		}
		c.moves++
		from[cand[0]] = c.moves
		to[o.b] = c.moves
		deleted[rb[o.b].key] = cand[1:]
	}
}

// gap handles one changed stretch: deleted original blocks dels and
// inserted revised blocks ins, which go before anchor (nil appends).
func (c *comparer) gap(parent *doctree.Node, ob, rb []block, dels, ins []int, anchor *doctree.Node, from, to map[int]int) error {
	at := func(i int) *doctree.Node {
		if i < len(dels) {
			return ob[dels[i]].node
		}
		return anchor
	}
	insert := func(b block, before *doctree.Node, t doctree.RevisionType, moveID int) error {
		cl, err := c.im.Import(b.node)
		if err != nil {
			return err
		}
		if err := parent.InsertBefore(cl, before); err != nil {
			return err
		}
		c.markAll(cl, t, moveID)
		return nil
	}
	i, j := 0, 0
	for i < len(dels) || j < len(ins) {
		switch {
		case i < len(dels) && from[dels[i]] != 0:
			c.markAll(ob[dels[i]].node, doctree.MoveFrom, from[dels[i]])
			i++
		case j < len(ins) && to[ins[j]] != 0:
			if err := insert(rb[ins[j]], at(i), doctree.MoveTo, to[ins[j]]); err != nil {
				return err
			}
			j++
		case i < len(dels) && j < len(ins) && c.pairable(ob[dels[i]], rb[ins[j]]):
			if err := c.pair(ob[dels[i]], rb[ins[j]]); err != nil {
				return err
			}
			i++
			j++
		case i < len(dels) && j+1 < len(ins) && c.pairable(ob[dels[i]], rb[ins[j+1]]):
			if err := insert(rb[ins[j]], at(i), doctree.Insertion, 0); err != nil {
				return err
			}
			j++
		case i < len(dels):
			c.markAll(ob[dels[i]].node, doctree.Deletion, 0)
			i++
		default:
			if err := insert(rb[ins[j]], at(i), doctree.Insertion, 0); err != nil {
				return err
			}
			j++
		}
	}
	return nil
}

func (c *comparer) pairable(o, r block) bool {
	switch {
	case o.node.Type() == doctree.TableNode && r.node.Type() == doctree.TableNode:
		return true
	case o.node.Type() == doctree.ParagraphNode && r.node.Type() == doctree.ParagraphNode:
		return similarity(o.atoms, r.atoms) >= pairThreshold
	}
	return false
}

// pair compares two aligned blocks of the same kind.
func (c *comparer) pair(o, r block) error {
	switch o.node.Type() {
	case doctree.ParagraphNode:
		return c.compareParagraph(o.node, r.node)
	case doctree.TableNode:
		return c.compareTable(o.node, r.node)
	}
	return fmt.Errorf("%w: cannot compare %s", doctree.ErrTypeMismatch, o.node.Type())
}
