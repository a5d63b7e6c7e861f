package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestDeterminism(t *testing.T) {
	v := Object{"actor": String("a"), "time": Int(3)}

	d1, err := Digest(DomainOperation, v)
	require.NoError(t, err)
	d2, err := Digest(DomainOperation, Object{"time": Int(3), "actor": String("a")})
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestDigestDomainSeparation(t *testing.T) {
	v := Object{"k": Int(1)}
	assert.NotEqual(t, MustDigest(DomainOperation, v), MustDigest(DomainState, v))
}

func TestDigestRejectsFloats(t *testing.T) {
	_, err := Digest(DomainState, 1.5)
	require.Error(t, err)
	assert.Panics(t, func() { MustDigest(DomainState, 1.5) })
}
