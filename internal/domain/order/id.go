package order

import (
	"time"

	"github.com/vendkit/vendcore/internal/pkg/ident"
)

// NewID generates a human-readable order id of the form
// ORD-<base36 millisecond timestamp>-<5 random base36 chars>, upper-cased.
func NewID() string {
	return ident.New("ORD", time.Now().UnixMilli(), 5)
}
