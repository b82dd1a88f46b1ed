package uid_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/peerdb/kgstore/uid"
)

func TestNewIsValidAndFixedLength(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := uid.New()
		assert.Len(t, id, uid.Length)
		assert.True(t, uid.Valid(id), "id %q should be valid", id)
	}
}

func TestNewFromReaderIsDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x01}, 64)
	a := uid.NewFromReader(bytes.NewReader(seed))
	b := uid.NewFromReader(bytes.NewReader(seed))
	assert.Equal(t, a, b)
}

func TestValidRejectsMalformed(t *testing.T) {
	assert.False(t, uid.Valid(""))
	assert.False(t, uid.Valid("short"))
	assert.False(t, uid.Valid("0OIl000000")) // disallowed base58 characters
	assert.False(t, uid.Valid("toolong0000"))
}
