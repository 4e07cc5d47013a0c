package ooxml

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/docforge/internal/doctree"
)

// salvage rebuilds what text it can from a package the full reader
// rejected. go-docx is lenient about the parts it ignores, so paragraph
// text and heading levels often survive damage elsewhere.
func salvage(data []byte, log *slog.Logger) (doc *doctree.Document, err error) {
	defer func() {
		if p := recover(); p != nil {
			doc, err = nil, fmt.Errorf("salvage: %v", p)
		}
	}()
	parsed, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("salvage: %w", err)
	}
	doc = doctree.NewBlank()
	sec := doctree.NewSection(doc)
	body := doctree.NewBody(doc)
	if err := doc.AppendChild(sec.Node); err != nil {
		return nil, err
	}
	if err := sec.AppendChild(body.Node); err != nil {
		return nil, err
	}
	var n int
	for _, item := range parsed.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		p := doctree.NewParagraph(doc)
		if level := docxHeadingLevel(para); level > 0 {
			p.Style = doc.Styles().Ensure(doctree.HeadingStyleName(level))
		}
		if text := docxParagraphText(para); text != "" {
			if err := p.AppendChild(doctree.NewRun(doc, text).Node); err != nil {
				return nil, err
			}
		}
		if err := body.AppendChild(p.Node); err != nil {
			return nil, err
		}
		n++
	}
	ensureParagraph(doc, body.Node)
	log.Warn("recovered text from damaged package", "paragraphs", n)
	return doc, nil
}

func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if lvl, ok := strings.CutPrefix(style, "heading"); ok && len(lvl) == 1 && lvl[0] >= '1' && lvl[0] <= '9' {
		return int(lvl[0] - '0')
	}
	return 0
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return textControl.Replace(buf.String())
}
