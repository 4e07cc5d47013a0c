package doctree

// Control characters embedded in run text or produced by text
// extraction for structural nodes.
const (
	ParagraphBreak     = "\r"
	LineBreak          = "\v"
	PageBreak          = "\f"
	SectionBreak       = "\f"
	ColumnBreak        = "\x0e"
	Tab                = "\t"
	CellMark           = "\a"
	FieldStartChar     = "\x13"
	FieldSeparatorChar = "\x14"
	FieldEndChar       = "\x15"
	FootnoteRefChar    = "\x02"
	CommentChar        = "\x05"
	NonBreakingSpace   = "\u00a0"
	NonBreakingHyphen  = "\x1e"
	OptionalHyphen     = "\x1f"
	LineFeed           = "\n"
	CRLF               = "\r\n"
)

// NodeText returns the text a structural node contributes around its
// children during extraction: open before the first child and close
// after the last. Runs contribute their own text through Run.Text.
func NodeText(n *Node) (open, close string) {
	switch n.typ {
	case ParagraphNode:
		return "", ParagraphBreak
	case CellNode, RowNode:
		return "", CellMark
	case SectionNode:
		if n.nextSibling != nil {
			return "", SectionBreak
		}
	case FieldStartNode:
		return FieldStartChar, ""
	case FieldSeparatorNode:
		return FieldSeparatorChar, ""
	case FieldEndNode:
		return FieldEndChar, ""
	case FootnoteNode:
		return FootnoteRefChar, ""
	case CommentNode:
		return CommentChar, ""
	}
	return "", ""
}

// IsBreakChar reports whether r forces a line or page boundary inside
// run text.
func IsBreakChar(r rune) bool {
	switch r {
	case '\v', '\f', '\x0e', '\r', '\n':
		return true
	}
	return false
}
