package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

const maxBodyBytes = 1 << 20

// DecodeJSONBody decodes a single JSON object into dst and rejects unknown
// fields. The returned status is the one to answer with on error.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) (int, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return http.StatusUnsupportedMediaType, fmt.Errorf("Content-Type header is not application/json")
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body must not exceed %d bytes", maxBodyBytes)
		case errors.Is(err, io.EOF):
			return http.StatusBadRequest, fmt.Errorf("request body must not be empty")
		default:
			return http.StatusBadRequest, err
		}
	}

	if dec.More() {
		return http.StatusBadRequest, fmt.Errorf("request body must contain a single JSON object")
	}

	return http.StatusOK, nil
}
