package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Statements and pool retunes are small; anything larger is a client bug.
const maxJSONBodyBytes int64 = 256 * 1024

// decodeJSONBody decodes exactly one JSON value into dst. Unknown fields are
// rejected so a misspelled pool setting fails instead of silently keeping
// the old value.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
