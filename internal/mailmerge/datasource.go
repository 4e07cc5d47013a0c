package mailmerge

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Record is one row of merge data. Values are strings, numbers, bools,
// time.Time, []byte image data, nested records, or slices of records
// that feed child regions of the same name.
type Record map[string]any

// DataSource is a named, ordered list of records. The name selects the
// regions it fills in ExecuteWithRegions.
type DataSource struct {
	Name    string
	Records []Record
}

// ErrBadData is returned when input data has an unusable shape.
var ErrBadData = errors.New("mailmerge: unusable data")

// Records builds a data source from records already in memory.
func Records(name string, recs ...Record) *DataSource {
	return &DataSource{Name: name, Records: recs}
}

// FromJSON reads a data source from JSON: an array of objects, or a
// single object treated as one record. Numbers keep their text.
func FromJSON(r io.Reader, name string) (*DataSource, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: json: %w", ErrBadData, err)
	}
	return fromValue(name, v)
}

// FromYAML reads a data source from YAML with the same shapes FromJSON
// accepts.
func FromYAML(r io.Reader, name string) (*DataSource, error) {
	var v any
	if err := yaml.NewDecoder(r).Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return &DataSource{Name: name}, nil
		}
		return nil, fmt.Errorf("%w: yaml: %w", ErrBadData, err)
	}
	return fromValue(name, v)
}

// FromCSV reads a flat data source whose first row holds the field
// names.
func FromCSV(r io.Reader, name string) (*DataSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: csv: %w", ErrBadData, err)
	}
	ds := &DataSource{Name: name}
	if len(rows) == 0 {
		return ds, nil
	}
	header := rows[0]
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	for _, row := range rows[1:] {
		rec := make(Record, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}

func fromValue(name string, v any) (*DataSource, error) {
	v = normalize(v)
	ds := &DataSource{Name: name}
	switch t := v.(type) {
	case nil:
	case Record:
		ds.Records = []Record{t}
	case []any:
		for i, item := range t {
			rec, ok := item.(Record)
			if !ok {
				return nil, fmt.Errorf("%w: item %d is %T, not an object", ErrBadData, i, item)
			}
			ds.Records = append(ds.Records, rec)
		}
	default:
		return nil, fmt.Errorf("%w: top level is %T", ErrBadData, v)
	}
	return ds, nil
}

// normalize turns decoded maps into Records so lookups see one shape.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		rec := make(Record, len(t))
		for k, x := range t {
			rec[k] = normalize(x)
		}
		return rec
	case map[any]any:
		rec := make(Record, len(t))
		for k, x := range t {
			rec[fmt.Sprint(k)] = normalize(x)
		}
		return rec
	case Record:
		rec := make(Record, len(t))
		for k, x := range t {
			rec[k] = normalize(x)
		}
		return rec
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalize(x)
		}
		return out
	case []Record:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalize(x)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalize(x)
		}
		return out
	}
	return v
}

// get finds a field by name, ignoring case. A dotted name that is not a
// key itself walks nested records.
func (r Record) get(name string) (any, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	head, rest, ok := strings.Cut(name, ".")
	if !ok {
		return nil, false
	}
	v, found := r.get(head)
	if !found {
		return nil, false
	}
	if sub, ok := normalize(v).(Record); ok {
		return sub.get(rest)
	}
	return nil, false
}

// children returns the records feeding a child region, and whether the
// record has data for it at all.
func (r Record) children(name string) ([]Record, bool) {
	v, ok := r.get(name)
	if !ok {
		return nil, false
	}
	switch t := normalize(v).(type) {
	case Record:
		return []Record{t}, true
	case []any:
		var out []Record
		for _, item := range t {
			if rec, ok := item.(Record); ok {
				out = append(out, rec)
			}
		}
		return out, true
	case nil:
		return nil, true
	}
	return nil, false
}

// scope chains a record to the records of enclosing regions; lookups
// fall back outward.
type scope struct {
	rec    Record
	parent *scope
}

func (s *scope) lookup(name string) (any, bool) {
	for ; s != nil; s = s.parent {
		if v, ok := s.rec.get(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (s *scope) children(name string) ([]Record, bool) {
	for ; s != nil; s = s.parent {
		if recs, ok := s.rec.children(name); ok {
			return recs, true
		}
	}
	return nil, false
}
