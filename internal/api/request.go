package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/pipeline"
)

// fileFields lists the multipart fields that carry documents, in the
// order they become job inputs.
var fileFields = []string{"file", "original", "revised", "files"}

// parseRequest reads a multipart upload into a job request. Form
// fields:
//
//	file, files, original, revised  documents
//	format                          output format name or extension
//	options                         JSON save options of the output format
//	password                        password of encrypted inputs
//	author                          compare revision author
//	compare_options, merge_options, mailmerge_options, cleanup_options
//	data, data_format, regions, source   mail merge data
func (s *Server) parseRequest(w http.ResponseWriter, r *http.Request, kind pipeline.JobKind) (*pipeline.Request, error) {
	// Extra 1MB for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*8+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("%w: invalid multipart form: %w", pipeline.ErrBadRequest, err)
	}

	req := &pipeline.Request{
		Kind:     kind,
		Password: r.FormValue("password"),
		Author:   r.FormValue("author"),
	}
	for _, field := range fileFields {
		for _, fh := range r.MultipartForm.File[field] {
			in, err := s.readUpload(fh)
			if err != nil {
				return nil, err
			}
			req.Inputs = append(req.Inputs, in)
		}
	}

	if v := r.FormValue("format"); v != "" {
		f, err := codec.ParseFormat(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", pipeline.ErrBadRequest, err)
		}
		req.Output = f
	}
	if v := r.FormValue("options"); v != "" {
		req.SaveOptions = json.RawMessage(v)
	}

	var err error
	switch kind {
	case pipeline.KindCompare:
		err = decodeOptions(r, "compare_options", &req.Compare)
	case pipeline.KindMerge:
		err = decodeOptions(r, "merge_options", &req.Merge)
	case pipeline.KindCleanup:
		err = decodeOptions(r, "cleanup_options", &req.Cleanup)
	case pipeline.KindMailMerge:
		err = s.parseMailMerge(r, &req.MailMerge)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Server) readUpload(fh *multipart.FileHeader) (pipeline.Input, error) {
	name := sanitizeFilename(fh.Filename)
	f, err := fh.Open()
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return pipeline.Input{}, &tooLargeError{name: name, limit: s.cfg.MaxUploadBytes}
	}
	return pipeline.Input{Name: name, Data: data}, nil
}

func (s *Server) parseMailMerge(r *http.Request, p *pipeline.MailMergeParams) error {
	p.DataFormat = r.FormValue("data_format")
	p.Source = r.FormValue("source")
	if v := r.FormValue("regions"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: regions: %w", pipeline.ErrBadRequest, err)
		}
		p.Regions = b
	}
	if files := r.MultipartForm.File["data"]; len(files) > 0 {
		in, err := s.readUpload(files[0])
		if err != nil {
			return err
		}
		p.Data = in.Data
		if p.DataFormat == "" {
			p.DataFormat = strings.TrimPrefix(filepath.Ext(in.Name), ".")
		}
	} else {
		p.Data = []byte(r.FormValue("data"))
	}
	return decodeOptions(r, "mailmerge_options", &p.Options)
}

// decodeOptions fills v from a JSON form field, rejecting unknown keys.
// A missing field leaves v unchanged.
func decodeOptions(r *http.Request, field string, v any) error {
	raw := r.FormValue(field)
	if raw == "" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %w", pipeline.ErrBadRequest, field, err)
	}
	return nil
}

type tooLargeError struct {
	name  string
	limit int64
}

func (e *tooLargeError) Error() string {
	return fmt.Sprintf("%s exceeds max size (%d bytes)", e.name, e.limit)
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
