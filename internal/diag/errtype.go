package diag

import (
	"errors"
	"fmt"
	"strings"
)

// genericErrors are the standard library's anonymous error types.
var genericErrors = map[string]bool{
	"errorString": true,
	"wrapError":   true,
	"wrapErrors":  true,
	"joinError":   true,
}

// errorTypeName names the first concrete error type in err's chain,
// without package path or pointer marker. Chains made only of errors.New
// and fmt.Errorf values report "Error".
func errorTypeName(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		name := strings.TrimPrefix(fmt.Sprintf("%T", e), "*")
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		if !genericErrors[name] {
			return name
		}
	}
	return "Error"
}
