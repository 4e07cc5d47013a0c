package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/dgallion1/docforge/internal/codec"
)

type formatInfo struct {
	Format              codec.Format `json:"format"`
	Extension           string       `json:"extension,omitempty"`
	ContentType         string       `json:"content_type,omitempty"`
	IsEncrypted         bool         `json:"is_encrypted"`
	HasDigitalSignature bool         `json:"has_digital_signature"`
	Encoding            string       `json:"encoding,omitempty"`
	Loadable            bool         `json:"loadable"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	info, err := codec.Detect(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		writeJobError(w, err)
		return
	}
	_, decErr := s.registry.Decoder(info.Format)
	out := formatInfo{
		Format:              info.Format,
		Extension:           info.Format.Extension(),
		IsEncrypted:         info.IsEncrypted,
		HasDigitalSignature: info.HasDigitalSignature,
		Encoding:            info.Encoding,
		Loadable:            info.Format != codec.Unknown && decErr == nil,
	}
	if info.Format != codec.Unknown {
		out.ContentType = info.Format.ContentType()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"load": s.registry.LoadFormats(),
		"save": s.registry.SaveFormats(),
	})
}

func (s *Server) handleConversionStats(w http.ResponseWriter, r *http.Request) {
	stats := s.orchestrator.Worker().Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"overall":     stats.Snapshot(),
		"by_kind":     stats.ByKind(),
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}
