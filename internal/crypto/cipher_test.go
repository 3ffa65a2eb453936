package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	c, err := NewCipher("secret")
	require.NoError(t, err)

	sealed, err := c.Seal("EAAG-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "EAAG-token")

	again, err := c.Seal("EAAG-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "EAAG-token", plain)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	a, err := NewCipher("one")
	require.NoError(t, err)
	b, err := NewCipher("two")
	require.NoError(t, err)

	sealed, err := a.Seal("token")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestOpenMalformed(t *testing.T) {
	c, err := NewCipher("secret")
	require.NoError(t, err)

	_, err = c.Open("not base64 !!")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = c.Open("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrMalformed)
}
