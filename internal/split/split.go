// Package split cuts a document into smaller documents at headings,
// section boundaries or a size budget. Each part is a full document
// that keeps the source's styles, lists and page setup.
package split

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dgallion1/docforge/internal/cleanup"
	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

// Part is one piece of a split document.
type Part struct {
	Index int
	// Breadcrumb lists the headings enclosing the part, outermost first.
	Breadcrumb []string
	Doc        *doctree.Document
}

// Title joins the breadcrumb for display.
func (p Part) Title() string {
	return strings.Join(p.Breadcrumb, " > ")
}

// block is a top-level body node, addressed by its position so the same
// node can be found again in a clone.
type block struct {
	section int
	node    *doctree.Node
	level   int
	title   string
}

func blocks(doc *doctree.Document) []block {
	var out []block
	for si, sec := range doc.Sections() {
		body := sec.Body()
		if body == nil {
			continue
		}
		for _, n := range body.Node.ChildNodes() {
			b := block{section: si, node: n}
			if p, ok := n.Data().(*doctree.Paragraph); ok {
				if b.level = doc.HeadingLevel(p); b.level > 0 {
					b.title = strings.TrimSpace(content.PlainText(n))
				}
			}
			out = append(out, b)
		}
	}
	return out
}

// outline tracks the enclosing headings while walking blocks.
type outline struct {
	levels []int
	titles []string
}

func (o *outline) push(level int, title string) {
	i := len(o.levels)
	for i > 0 && o.levels[i-1] >= level {
		i--
	}
	o.levels = append(o.levels[:i], level)
	o.titles = append(o.titles[:i], title)
}

func (o *outline) crumb() []string {
	if len(o.titles) == 0 {
		return nil
	}
	return append([]string(nil), o.titles...)
}

// span is a half-open range of blocks.
type span struct {
	from, to int
	crumb    []string
}

// ByHeadings starts a new part at every body heading of level maxLevel
// or shallower. Content before the first such heading forms its own
// part with an empty breadcrumb. A part's breadcrumb ends with its own
// heading.
func ByHeadings(doc *doctree.Document, maxLevel int) ([]Part, error) {
	if maxLevel <= 0 {
		maxLevel = 1
	}
	bs := blocks(doc)
	var spans []span
	var o outline
	start := 0
	var crumb []string
	for i, b := range bs {
		if b.level == 0 || b.level > maxLevel {
			continue
		}
		if i > start {
			spans = append(spans, span{start, i, crumb})
		}
		o.push(b.level, b.title)
		start, crumb = i, o.crumb()
	}
	if start < len(bs) {
		spans = append(spans, span{start, len(bs), crumb})
	}
	return build(doc, bs, spans)
}

// BySections makes one part per section. A part is titled by its first
// heading, or by its position when it has none.
func BySections(doc *doctree.Document) ([]Part, error) {
	bs := blocks(doc)
	var spans []span
	for i := 0; i < len(bs); {
		j := i
		title := ""
		for ; j < len(bs) && bs[j].section == bs[i].section; j++ {
			if title == "" && bs[j].level > 0 {
				title = bs[j].title
			}
		}
		if title == "" {
			title = "Section " + strconv.Itoa(bs[i].section+1)
		}
		spans = append(spans, span{i, j, []string{title}})
		i = j
	}
	return build(doc, bs, spans)
}

// BySize packs whole blocks into parts of at most maxTokens estimated
// tokens. A single block larger than the budget becomes a part of its
// own. Each part's breadcrumb is the heading outline at its first block.
func BySize(doc *doctree.Document, maxTokens int) ([]Part, error) {
	if maxTokens <= 0 {
		maxTokens = 1500
	}
	bs := blocks(doc)
	var spans []span
	var o outline
	start, tokens := 0, 0
	crumb := o.crumb()
	for i, b := range bs {
		n := EstimateTokens(content.PlainText(b.node))
		if tokens > 0 && tokens+n > maxTokens {
			spans = append(spans, span{start, i, crumb})
			start, tokens = i, 0
			crumb = o.crumb()
		}
		if b.level > 0 {
			o.push(b.level, b.title)
			if i == start {
				crumb = o.crumb()
			}
		}
		tokens += n
	}
	if start < len(bs) {
		spans = append(spans, span{start, len(bs), crumb})
	}
	return build(doc, bs, spans)
}

func build(doc *doctree.Document, bs []block, spans []span) ([]Part, error) {
	parts := make([]Part, 0, len(spans))
	for i, s := range spans {
		d, err := extract(doc, len(bs), s)
		if err != nil {
			return nil, err
		}
		if len(s.crumb) > 0 {
			d.BuiltIn.Title = strings.Join(s.crumb, " > ")
		}
		parts = append(parts, Part{Index: i, Breadcrumb: s.crumb, Doc: d})
	}
	return parts, nil
}

// extract clones doc and keeps only the blocks in s. Sections left
// without blocks are dropped.
func extract(doc *doctree.Document, total int, s span) (*doctree.Document, error) {
	cp := doc.Clone()
	cb := blocks(cp)
	if len(cb) != total {
		return nil, fmt.Errorf("split: clone has %d blocks, source %d", len(cb), total)
	}
	for i, b := range cb {
		if i >= s.from && i < s.to {
			continue
		}
		if err := b.node.Remove(); err != nil {
			return nil, err
		}
	}
	for _, sec := range cp.Sections() {
		if body := sec.Body(); body == nil || !body.Node.HasChildNodes() {
			if err := sec.Node.Remove(); err != nil {
				return nil, err
			}
		}
	}
	cleanup.Cleanup(cp, cleanup.Options{UnusedStyles: true, UnusedLists: true})
	return cp, nil
}
