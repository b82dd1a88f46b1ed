// Package uid generates and validates the fixed-format identifiers used
// as the external uid of every editable entity.
package uid

import (
	"crypto/rand"
	"io"
	"regexp"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// Length is the fixed length of a uid, in characters.
const Length = 10

var uidRegex = regexp.MustCompile(`^[123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz]{10}$`)

// New returns a new random uid.
func New() string {
	return NewFromReader(rand.Reader)
}

// NewFromReader returns a new random uid using r as the source of randomness.
//
// It is exposed separately from New so that tests can supply a deterministic
// reader and get reproducible uids.
func NewFromReader(r io.Reader) string {
	// Base58 encodes roughly 1.37 characters per byte, so 8 bytes usually
	// yield more than Length characters; an encoding shorter than Length
	// (a small random value) is left-padded with '1' to a full-length id.
	data := make([]byte, 8)
	_, err := io.ReadFull(r, data)
	if err != nil {
		panic(err)
	}
	res := base58.Encode(data)
	if len(res) < Length {
		res = strings.Repeat("1", Length-len(res)) + res
	}
	return res[:Length]
}

// Valid returns true if id looks like a validly-formatted uid.
//
// It does not check that the uid is actually in use by any entity.
func Valid(id string) bool {
	return uidRegex.MatchString(id)
}
