package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/compare"
	"github.com/dgallion1/docforge/internal/license"
	"github.com/dgallion1/docforge/internal/mailmerge"
	"github.com/dgallion1/docforge/internal/merge"
	"github.com/dgallion1/docforge/internal/pipeline"
)

// statusFor maps a job error to an HTTP status.
func statusFor(err error) int {
	var tl *tooLargeError
	switch {
	case errors.As(err, &tl):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrBadRequest),
		errors.Is(err, codec.ErrOptionsMismatch),
		errors.Is(err, mailmerge.ErrBadData),
		errors.Is(err, mailmerge.ErrRegion),
		errors.Is(err, merge.ErrNoDocuments):
		return http.StatusBadRequest
	case errors.Is(err, codec.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, codec.ErrCorrupted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, codec.ErrPasswordRequired), errors.Is(err, codec.ErrWrongPassword):
		return http.StatusUnauthorized
	case errors.Is(err, compare.ErrRevisionConflict):
		return http.StatusConflict
	case errors.Is(err, license.ErrNotLicensed):
		return http.StatusPaymentRequired
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrSaveTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJobError(w http.ResponseWriter, err error) {
	jsonError(w, err.Error(), statusFor(err))
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
