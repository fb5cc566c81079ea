package payment

import (
	"time"

	"github.com/vendkit/vendcore/internal/pkg/ident"
)

// NewID generates a payment id of the form
// PAY-<base36 millisecond timestamp>-<8 random base36 chars>, upper-cased.
func NewID() string {
	return ident.New("PAY", time.Now().UnixMilli(), 8)
}
