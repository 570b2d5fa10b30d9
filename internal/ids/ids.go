// Package ids generates sortable record identifiers of the form
// <prefix>_<YYYYMMDDhhmmss>_<8 hex chars>.
package ids

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefixes used by the queue.
const (
	PrefixMessage = "msg"
	PrefixEvent   = "evt"
	PrefixError   = "err"
)

const stampLayout = "20060102150405"

// New returns an identifier stamped with the current UTC time.
func New(prefix string) string {
	return NewAt(prefix, time.Now())
}

// NewAt returns an identifier stamped with t (converted to UTC). The suffix
// comes from the random bits of a v4 UUID.
func NewAt(prefix string, t time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return prefix + "_" + t.UTC().Format(stampLayout) + "_" + suffix
}
