// Package xid builds human-readable, prefixed identifiers such as
// ORD-1718000000000-9f3a61c2.
package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), suffix)
}

// Token returns an opaque random token with no prefix.
func Token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
