package doctree

// Alignment is the horizontal alignment of a paragraph.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
	AlignJustify
)

func (a Alignment) String() string {
	switch a {
	case AlignCenter:
		return "center"
	case AlignRight:
		return "right"
	case AlignJustify:
		return "justify"
	}
	return "left"
}

// VerticalAlign positions text relative to the baseline.
type VerticalAlign int

const (
	Baseline VerticalAlign = iota
	Superscript
	Subscript
)

// CharFormat is direct character formatting. Zero values inherit.
// Sizes are in points; colors are RRGGBB hex.
type CharFormat struct {
	FontName      string
	Size          float64
	Bold          bool
	Italic        bool
	Underline     bool
	Strike        bool
	Hidden        bool
	Color         string
	Highlight     string
	VerticalAlign VerticalAlign
}

// IsZero reports whether no direct formatting is set.
func (f CharFormat) IsZero() bool { return f == CharFormat{} }

// Merge returns f with every unset field taken from base.
func (f CharFormat) Merge(base CharFormat) CharFormat {
	if f.FontName == "" {
		f.FontName = base.FontName
	}
	if f.Size == 0 {
		f.Size = base.Size
	}
	f.Bold = f.Bold || base.Bold
	f.Italic = f.Italic || base.Italic
	f.Underline = f.Underline || base.Underline
	f.Strike = f.Strike || base.Strike
	f.Hidden = f.Hidden || base.Hidden
	if f.Color == "" {
		f.Color = base.Color
	}
	if f.Highlight == "" {
		f.Highlight = base.Highlight
	}
	if f.VerticalAlign == Baseline {
		f.VerticalAlign = base.VerticalAlign
	}
	return f
}

// ParaFormat is direct paragraph formatting. Measurements are in points.
type ParaFormat struct {
	Alignment       Alignment
	LeftIndent      float64
	RightIndent     float64
	FirstLineIndent float64
	SpaceBefore     float64
	SpaceAfter      float64
	KeepWithNext    bool
	PageBreakBefore bool
	// OutlineLevel is 1-9 for outline paragraphs, 0 for body text.
	OutlineLevel int
}

func (f ParaFormat) IsZero() bool { return f == ParaFormat{} }

// Orientation of a page.
type Orientation int

const (
	Portrait Orientation = iota
	Landscape
)

// SectionStart says where a section begins.
type SectionStart int

const (
	SectionNewPage SectionStart = iota
	SectionContinuous
	SectionEvenPage
	SectionOddPage
	SectionNewColumn
)

// PageSetup describes section geometry in points.
type PageSetup struct {
	PageWidth          float64
	PageHeight         float64
	TopMargin          float64
	BottomMargin       float64
	LeftMargin         float64
	RightMargin        float64
	HeaderDistance     float64
	FooterDistance     float64
	Orientation        Orientation
	SectionStart       SectionStart
	DifferentFirstPage bool
}

// DefaultPageSetup is US Letter with one-inch margins.
func DefaultPageSetup() PageSetup {
	return PageSetup{
		PageWidth:      612,
		PageHeight:     792,
		TopMargin:      72,
		BottomMargin:   72,
		LeftMargin:     72,
		RightMargin:    72,
		HeaderDistance: 36,
		FooterDistance: 36,
	}
}

// TableFormat holds table-level properties.
type TableFormat struct {
	Alignment Alignment
	// PreferredWidth in points, 0 for auto.
	PreferredWidth float64
	Borders        bool
}
