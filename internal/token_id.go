package internal

import (
	"crypto/sha256"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewTokenID returns a unique per-issuance identifier. The identifier embeds
// the issuance instant alongside a random UUID so two tokens minted for the
// same principal in the same millisecond still differ, and so audit tooling
// can recover the issuance time from the identifier alone.
func NewTokenID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 36) + "." + uuid.NewString()
}

// HashToken derives the backend lookup key for a refresh token. Backends key
// records by this digest so raw credentials never appear in storage keys or
// logs.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}
