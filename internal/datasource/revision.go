package datasource

import (
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Revision fingerprints a record's properties with BLAKE2b-256 over a
// canonical rendering (map keys sorted, recursively), so the same content
// always yields the same revision regardless of map iteration order or
// which source produced it.
func Revision(props map[string]any) []byte {
	h, _ := blake2b.New256(nil)
	writeCanonical(h, props)
	return h.Sum(nil)
}

func writeCanonical(w io.Writer, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		io.WriteString(w, "{")
		for _, k := range keys {
			io.WriteString(w, k)
			io.WriteString(w, "=")
			writeCanonical(w, t[k])
			io.WriteString(w, ";")
		}
		io.WriteString(w, "}")
	case []any:
		io.WriteString(w, "[")
		for _, e := range t {
			writeCanonical(w, e)
			io.WriteString(w, ",")
		}
		io.WriteString(w, "]")
	case nil:
		io.WriteString(w, "~")
	default:
		fmt.Fprintf(w, "%v", t)
	}
}
