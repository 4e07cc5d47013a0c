// Package license decides whether load and save operations may run and
// how they degrade without a full license.
package license

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
)

// ErrNotLicensed is returned when the checker refuses an operation.
var ErrNotLicensed = errors.New("operation not licensed")

// Operation names the capability being checked.
type Operation string

const (
	OpLoad      Operation = "load"
	OpSave      Operation = "save"
	OpCompare   Operation = "compare"
	OpMerge     Operation = "merge"
	OpMailMerge Operation = "mailmerge"
)

// Decision is the outcome of a check.
type Decision int

const (
	Allow Decision = iota
	// Watermark lets the operation run but marks saved output.
	Watermark
	Refuse
)

var decisionNames = [...]string{"allow", "watermark", "refuse"}

func (d Decision) String() string {
	if d < 0 || int(d) >= len(decisionNames) {
		return fmt.Sprintf("Decision(%d)", int(d))
	}
	return decisionNames[d]
}

// Checker is the capability hook consulted before operations.
type Checker interface {
	Check(op Operation) Decision
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(Operation) Decision

func (f CheckerFunc) Check(op Operation) Decision { return f(op) }

// Unlimited allows everything.
var Unlimited Checker = CheckerFunc(func(Operation) Decision { return Allow })

// Evaluation allows every operation and watermarks saved documents.
var Evaluation Checker = CheckerFunc(func(op Operation) Decision {
	if op == OpSave {
		return Watermark
	}
	return Allow
})

// Disabled refuses every operation.
var Disabled Checker = CheckerFunc(func(Operation) Decision { return Refuse })

// ForMode returns the checker for a configured mode name: "full",
// "evaluation" or "disabled".
func ForMode(mode string) (Checker, error) {
	switch strings.ToLower(mode) {
	case "", "full":
		return Unlimited, nil
	case "evaluation":
		return Evaluation, nil
	case "disabled":
		return Disabled, nil
	}
	return nil, fmt.Errorf("unknown license mode %q", mode)
}

// Require returns ErrNotLicensed when c refuses op. A nil checker allows.
func Require(c Checker, op Operation) (Decision, error) {
	if c == nil {
		return Allow, nil
	}
	d := c.Check(op)
	if d == Refuse {
		return d, fmt.Errorf("%w: %s", ErrNotLicensed, op)
	}
	return d, nil
}

// WatermarkText is the line prepended to documents saved under an
// evaluation license.
const WatermarkText = "Created with an evaluation copy of docforge."

// ApplyWatermark returns a clone of doc whose first section starts with
// a watermark paragraph. The input is not modified.
func ApplyWatermark(doc *doctree.Document) *doctree.Document {
	c := doc.Clone()
	c.StopTrackRevisions()
	sec := c.FirstSection()
	if sec == nil {
		sec = c.AddSection()
	}
	body := sec.EnsureBody()
	p := doctree.NewParagraph(c)
	p.Format.Alignment = doctree.AlignCenter
	r := doctree.NewRun(c, WatermarkText)
	r.Format = doctree.CharFormat{Color: "FF0000", Bold: true}
	if err := p.AppendChild(r.Node); err != nil {
		panic(err)
	}
	if err := body.PrependChild(p.Node); err != nil {
		panic(err)
	}
	return c
}
