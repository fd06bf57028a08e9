// Package xid mints the prefixed identifiers used for server-side records
// (transactions, journal rows, cashier accounts). Client terminals mint their
// own UUIDs; these ids only need to be unique within one server.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns "<prefix>-<unix nanos>-<random hex>". The timestamp keeps ids
// roughly ordered by creation; the random tail makes concurrent mints safe.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
