package cache

import (
	"fmt"
	"strings"
)

// Key joins parts with ':' the way every cache key in the service is laid out,
// e.g. Key("merge", 12, 0) == "merge:12:0".
func Key(prefix string, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		fmt.Fprintf(&b, ":%v", p)
	}
	return b.String()
}
