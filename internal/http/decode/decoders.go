// Package decode decodes HTTP request parameters into structs.
package decode

import (
	"errors"
	"net/http"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
)

// Query schema decoder: caches structs, and safe for sharing.
var decoder *schema.Decoder

func init() {
	decoder = schema.NewDecoder()
	// Don't error if there are keys in the source map that are not present in
	// the destination struct.
	decoder.IgnoreUnknownKeys(true)
}

// Route decodes a mux route parameters (e.g. /foo/{bar}) into dst.
func Route(dst any, r *http.Request) error {
	// decoder only takes map[string][]string, not map[string]string
	vars := make(map[string][]string)
	for k, v := range mux.Vars(r) {
		vars[k] = []string{v}
	}
	return decode(dst, vars)
}

// All populates the struct pointed to by dst with query params and request
// path variables, with path variables taking precedence.
func All(dst any, r *http.Request) error {
	vars := make(map[string][]string)
	for k, v := range r.URL.Query() {
		vars[k] = v
	}
	for k, v := range mux.Vars(r) {
		vars[k] = []string{v}
	}
	return decode(dst, vars)
}

func decode(dst any, src map[string][]string) error {
	if err := decoder.Decode(dst, src); err != nil {
		var multi schema.MultiError
		if errors.As(err, &multi) {
			for _, err := range multi {
				var emptyField schema.EmptyFieldError
				if errors.As(err, &emptyField) {
					return &internal.MissingParameterError{Parameter: emptyField.Key}
				}
			}
		}
		return err
	}
	return nil
}
