package shared

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// maxRequestBody bounds request bodies to 1 MiB; job submissions are
// metadata, not bulk data.
const maxRequestBody = 1 << 20

// DecodeJSON decodes the request body into dst, rejecting oversized
// bodies and trailing garbage.
func DecodeJSON(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBody)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("request body contains more than one JSON value")
	}
	return nil
}
