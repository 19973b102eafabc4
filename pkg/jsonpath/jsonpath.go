// Package jsonpath looks up fields in JSON response bodies.
//
// Paths may be written as simple JSONPath ("$.system.status",
// "$.items[0].id", "$['name']") or directly in gjson syntax ("system.status").
package jsonpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidJSON is returned when the document does not parse.
	ErrInvalidJSON = errors.New("invalid JSON document")
	// ErrNotFound is returned when the path matches nothing.
	ErrNotFound = errors.New("path not found")
)

// Lookup returns the value at path in doc.
func Lookup(doc []byte, path string) (gjson.Result, error) {
	if path == "" {
		return gjson.Result{}, errors.New("empty JSONPath expression")
	}
	if len(doc) == 0 || !gjson.ValidBytes(doc) {
		return gjson.Result{}, ErrInvalidJSON
	}

	result := gjson.GetBytes(doc, ToGJSON(path))
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return result, nil
}

// Truthy reports whether the value at path exists and is truthy: not null,
// not false, not zero and not the empty string. Objects and arrays are
// always truthy.
func Truthy(doc []byte, path string) (bool, error) {
	result, err := Lookup(doc, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch result.Type {
	case gjson.Null, gjson.False:
		return false, nil
	case gjson.Number:
		return result.Num != 0, nil
	case gjson.String:
		return result.Str != "", nil
	default:
		return true, nil
	}
}

// ToGJSON converts a JSONPath expression to gjson syntax. Paths without a
// leading "$" are returned unchanged.
func ToGJSON(path string) string {
	if !strings.HasPrefix(path, "$") {
		return path
	}

	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	// $['name'] and $["name"]
	for _, q := range []string{"'", "\""} {
		path = strings.ReplaceAll(path, "["+q, ".")
		path = strings.ReplaceAll(path, q+"]", "")
	}

	// [n] becomes .n
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	return strings.TrimPrefix(path, ".")
}
