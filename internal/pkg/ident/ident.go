// Package ident generates the human-readable document ids used across the
// lifecycle engine: <PREFIX>-<base36 millisecond timestamp>-<random base36>.
package ident

import (
	"math/rand/v2"
	"strconv"
	"strings"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// New builds an upper-cased id from a prefix, the supplied millisecond
// timestamp and randLen random base36 characters.
func New(prefix string, unixMilli int64, randLen int) string {
	ts := strings.ToUpper(strconv.FormatInt(unixMilli, 36))
	return prefix + "-" + ts + "-" + RandBase36(randLen)
}

// RandBase36 returns n random upper-case base36 characters.
func RandBase36(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
