package doctree

import (
	"errors"
	"strings"
	"testing"
)

// checkLinks verifies the parent/sibling/child-count invariants of the
// subtree below n.
func checkLinks(t *testing.T, n *Node) {
	t.Helper()
	count := 0
	var prev *Node
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.ParentNode() != n {
			t.Fatalf("%s child %s has parent %v", n, c, c.ParentNode())
		}
		if c.PreviousSibling() != prev {
			t.Fatalf("%s child %d: previous sibling mismatch", n, count)
		}
		prev = c
		count++
		checkLinks(t, c)
	}
	if n.LastChild() != prev {
		t.Fatalf("%s: last child mismatch", n)
	}
	if n.ChildCount() != count {
		t.Fatalf("%s: child count %d, walked %d", n, n.ChildCount(), count)
	}
}

func paraText(p *Paragraph) string {
	var b strings.Builder
	for _, r := range p.Runs() {
		b.WriteString(r.Text())
	}
	return b.String()
}

func bodyTexts(d *Document) []string {
	var out []string
	for _, s := range d.Sections() {
		for _, p := range s.Body().Paragraphs() {
			out = append(out, paraText(p))
		}
	}
	return out
}

func TestInsertOperationsKeepLinks(t *testing.T) {
	doc := NewDocument()
	para := doc.FirstSection().Body().Paragraphs()[0]

	a := NewRun(doc, "a")
	b := NewRun(doc, "b")
	c := NewRun(doc, "c")
	d := NewRun(doc, "d")

	if err := para.AppendChild(b.Node); err != nil {
		t.Fatal(err)
	}
	if err := para.PrependChild(a.Node); err != nil {
		t.Fatal(err)
	}
	if err := para.InsertAfter(d.Node, b.Node); err != nil {
		t.Fatal(err)
	}
	if err := para.InsertBefore(c.Node, d.Node); err != nil {
		t.Fatal(err)
	}

	if got := paraText(para); got != "abcd" {
		t.Fatalf("expected abcd, got %q", got)
	}
	checkLinks(t, doc.Node)

	if err := b.Remove(); err != nil {
		t.Fatal(err)
	}
	if got := paraText(para); got != "acd" {
		t.Fatalf("expected acd after remove, got %q", got)
	}
	if b.ParentNode() != nil || b.NextSibling() != nil || b.PreviousSibling() != nil {
		t.Error("removed node kept links")
	}
	checkLinks(t, doc.Node)

	para.RemoveAllChildren()
	if para.HasChildNodes() || para.ChildCount() != 0 {
		t.Errorf("expected empty paragraph, got %d children", para.ChildCount())
	}
	checkLinks(t, doc.Node)
}

func TestTreeOperationErrors(t *testing.T) {
	doc := NewDocument()
	other := NewDocument()
	body := doc.FirstSection().Body()
	para := body.Paragraphs()[0]

	attached := NewRun(doc, "x")
	if err := para.AppendChild(attached.Node); err != nil {
		t.Fatal(err)
	}
	otherPara := other.FirstSection().Body().Paragraphs()[0]

	tests := []struct {
		name string
		op   func() error
	}{
		{"already attached", func() error { return otherPara.AppendChild(attached.Node) }},
		{"attached same doc", func() error { return body.AppendChild(para.Node) }},
		{"cross document", func() error { return otherPara.AppendChild(NewRun(doc, "y").Node) }},
		{"invalid pairing", func() error { return body.AppendChild(NewRun(doc, "z").Node) }},
		{"run under table", func() error { return NewTable(doc).AppendChild(NewParagraph(doc).Node) }},
		{"foreign ref", func() error { return body.InsertBefore(NewParagraph(doc).Node, attached.Node) }},
		{"foreign ref after", func() error { return body.InsertAfter(NewParagraph(doc).Node, attached.Node) }},
		{"remove detached", func() error { return NewRun(doc, "w").Remove() }},
		{"remove non-child", func() error { return body.RemoveChild(attached.Node) }},
		{"nil child", func() error { return para.AppendChild(nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			if !errors.Is(err, ErrInvalidTreeOperation) {
				t.Fatalf("expected ErrInvalidTreeOperation, got %v", err)
			}
		})
	}
	checkLinks(t, doc.Node)
	checkLinks(t, other.Node)
}

func TestAttachRejectsCycle(t *testing.T) {
	doc := NewDocument()
	table := NewTable(doc)
	row := NewRow(doc)
	cell := NewCell(doc)
	if err := table.AppendChild(row.Node); err != nil {
		t.Fatal(err)
	}
	if err := row.AppendChild(cell.Node); err != nil {
		t.Fatal(err)
	}
	// A table inside its own cell would be a cycle.
	err := cell.AppendChild(table.Node)
	if !errors.Is(err, ErrInvalidTreeOperation) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
}

func TestDowncasts(t *testing.T) {
	doc := NewDocument()
	para := doc.FirstSection().Body().Paragraphs()[0]

	if _, err := para.Node.AsRun(); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
	got, err := para.Node.AsParagraph()
	if err != nil {
		t.Fatal(err)
	}
	if got != para {
		t.Error("AsParagraph returned a different payload")
	}
	if para.Node.Data().(*Paragraph) != para {
		t.Error("Data did not return the payload")
	}
}

func TestTraversal(t *testing.T) {
	doc := NewDocument()
	b := NewBuilder(doc)
	b.Writeln("one")
	b.StartTable()
	if _, err := b.InsertCell(); err != nil {
		t.Fatal(err)
	}
	b.Write("cell")
	if _, err := b.EndRow(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.EndTable(); err != nil {
		t.Fatal(err)
	}
	b.Write("after")

	var types []string
	for n := range doc.FirstSection().Body().Descendants() {
		types = append(types, n.Type().String())
	}
	want := "Paragraph Run Table Row Cell Paragraph Run Paragraph Run"
	if got := strings.Join(types, " "); got != want {
		t.Fatalf("preorder mismatch:\n got %s\nwant %s", got, want)
	}

	runs := doc.NodesOfType(RunNode)
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[1].Ancestor(TableNode) == nil {
		t.Error("cell run has no table ancestor")
	}
	if !runs[0].PrecedesInOrder(runs[1]) || runs[2].PrecedesInOrder(runs[1]) {
		t.Error("PrecedesInOrder disagrees with document order")
	}
	if runs[0].NextInOrder(doc.Node) != runs[0].ParentNode().NextSibling() {
		t.Error("NextInOrder did not climb to the next block")
	}
	checkLinks(t, doc.Node)
}

func TestCloneIsIndependent(t *testing.T) {
	doc := NewDocument()
	b := NewBuilder(doc)
	b.SetStyle("Heading 1")
	b.Write("title")

	para := doc.FirstSection().Body().Paragraphs()[0]
	c := para.Clone(true)
	if c.ParentNode() != nil {
		t.Fatal("clone is attached")
	}
	if c.Document() != doc {
		t.Fatal("clone has a different owner")
	}
	cp := c.Data().(*Paragraph)
	if paraText(cp) != "title" || cp.Style != para.Style {
		t.Fatalf("clone lost content: %q style %d", paraText(cp), cp.Style)
	}
	cp.Runs()[0].SetText("changed")
	if paraText(para) != "title" {
		t.Error("editing the clone changed the source")
	}

	shallow := para.Clone(false)
	if shallow.HasChildNodes() {
		t.Error("shallow clone copied children")
	}

	other := NewDocument()
	moved := para.CloneTo(other, true, nil)
	if moved.Document() != other {
		t.Fatal("CloneTo kept the source owner")
	}
	if moved.Data().(*Paragraph).Style != 0 {
		t.Error("nil mapper should clear foreign style handles")
	}
	if err := other.FirstSection().Body().AppendChild(moved); err != nil {
		t.Fatal(err)
	}
	if err := other.ValidateReferences(); err != nil {
		t.Fatal(err)
	}
}

func TestDocumentClone(t *testing.T) {
	doc := NewDocument()
	doc.Variables.Set("k", "v")
	h := doc.Lists().AddTemplate(ListNumberDefault)
	b := NewBuilder(doc)
	b.ApplyList(h, 0)
	b.Write("item")

	c := doc.Clone()
	if c == doc || c.Node == doc.Node {
		t.Fatal("clone shares the root")
	}
	if v, _ := c.Variables.Get("k"); v != "v" {
		t.Errorf("variables not cloned: %q", v)
	}
	c.Variables.Set("k", "changed")
	if v, _ := doc.Variables.Get("k"); v != "v" {
		t.Error("variables are shared")
	}
	if got := bodyTexts(c); len(got) != 1 || got[0] != "item" {
		t.Fatalf("unexpected clone text %q", got)
	}
	for n := range c.Descendants() {
		if n.Document() != c {
			t.Fatalf("%s in clone owned by source", n)
		}
	}
	if err := c.ValidateReferences(); err != nil {
		t.Fatal(err)
	}
	checkLinks(t, c.Node)
}
