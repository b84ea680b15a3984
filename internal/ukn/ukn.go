// Package ukn issues and validates Unique KYC Numbers.
package ukn

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Generate returns a fresh UKN of the form KYC-XXXX-XXXX-XXXX where the
// X groups are uppercase hex from a CSPRNG.
func Generate() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	h := strings.ToUpper(hex.EncodeToString(buf))
	return fmt.Sprintf("KYC-%s-%s-%s", h[:4], h[4:8], h[8:12]), nil
}

// ValidFormat reports whether s looks like an issued UKN.
func ValidFormat(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 4 || parts[0] != "KYC" {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != 4 {
			return false
		}
		if _, err := hex.DecodeString(strings.ToLower(p)); err != nil {
			return false
		}
	}
	return true
}

// RecordHash derives the fingerprint stored on the ledger for an issued
// UKN.
func RecordHash(ukn, userID string, issuedAt time.Time) string {
	sum := sha256.Sum256([]byte(ukn + ":" + userID + ":" + issuedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}
