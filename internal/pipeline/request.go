package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dgallion1/docforge/internal/cleanup"
	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/compare"
	"github.com/dgallion1/docforge/internal/mailmerge"
	"github.com/dgallion1/docforge/internal/merge"
)

// ErrBadRequest marks a request that cannot run as given.
var ErrBadRequest = errors.New("bad request")

// Input is one uploaded document.
type Input struct {
	Name string
	Data []byte
}

// Request describes the work of one job.
type Request struct {
	Kind   JobKind
	Inputs []Input
	// Output is the format to save; Unknown selects the configured
	// default.
	Output codec.Format
	// SaveOptions is the JSON options record of Output.
	SaveOptions json.RawMessage
	Password    string

	// Author attributes compare revisions.
	Author    string
	Compare   compare.Options
	Merge     merge.Options
	MailMerge MailMergeParams
	Cleanup   cleanup.Options
}

// MailMergeParams carries the data of a mail merge job.
type MailMergeParams struct {
	Data []byte
	// DataFormat is "json", "yaml" or "csv".
	DataFormat string
	// Regions selects ExecuteWithRegions; Source names the region the
	// top-level records fill.
	Regions bool
	Source  string
	Options mailmerge.Options
}

// Validate checks the input count for the kind.
func (r *Request) Validate() error {
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	n := len(r.Inputs)
	switch r.Kind {
	case KindCompare:
		if n != 2 {
			return fmt.Errorf("%w: compare takes 2 documents, got %d", ErrBadRequest, n)
		}
	case KindMerge:
		if n == 0 {
			return fmt.Errorf("%w: merge takes at least one document", ErrBadRequest)
		}
	default:
		if n != 1 {
			return fmt.Errorf("%w: %s takes 1 document, got %d", ErrBadRequest, r.Kind, n)
		}
	}
	for i, in := range r.Inputs {
		if len(in.Data) == 0 {
			return fmt.Errorf("%w: input %d (%s) is empty", ErrBadRequest, i, in.Name)
		}
	}
	if r.Kind == KindMailMerge {
		if _, err := r.MailMerge.dataSource(); err != nil {
			return err
		}
	}
	return nil
}

// dataSource parses the merge data.
func (p MailMergeParams) dataSource() (*mailmerge.DataSource, error) {
	rd := bytes.NewReader(p.Data)
	var (
		ds  *mailmerge.DataSource
		err error
	)
	switch strings.ToLower(strings.TrimPrefix(p.DataFormat, ".")) {
	case "", "json":
		ds, err = mailmerge.FromJSON(rd, p.Source)
	case "yaml", "yml":
		ds, err = mailmerge.FromYAML(rd, p.Source)
	case "csv":
		ds, err = mailmerge.FromCSV(rd, p.Source)
	default:
		return nil, fmt.Errorf("%w: unknown data format %q", ErrBadRequest, p.DataFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return ds, nil
}

// outputName names the result file after the first input.
func (r *Request) outputName(f codec.Format) string {
	stem := string(r.Kind)
	switch r.Kind {
	case KindConvert, KindCleanup, KindMailMerge, KindCompare:
		if len(r.Inputs) > 0 && r.Inputs[0].Name != "" {
			base := filepath.Base(r.Inputs[0].Name)
			stem = strings.TrimSuffix(base, filepath.Ext(base))
		}
	case KindMerge:
		stem = "merged"
	}
	if r.Kind == KindCompare {
		stem += "-compared"
	}
	return stem + f.Extension()
}
