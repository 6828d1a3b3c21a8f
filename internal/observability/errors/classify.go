// Package errors derives low-cardinality error type names for metric tags.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"
)

// Classify reduces an error chain to a stable tag value such as
// "retry_exhaustederror" or "pgconn_pgerror". The innermost error carries
// the most signal, so wrappers added by fmt.Errorf are peeled off first.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	for {
		inner := goerrors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}

	return tagName(reflect.TypeOf(err))
}

func tagName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(t.String())
	name = strings.ReplaceAll(name, "*", "")
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
