package trusterr

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappers(t *testing.T) {
	err := Validationf("username is required")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "username is required")

	err = Persistence("saving profile", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	err = Crypto("decrypt", errors.New("bad tag"))
	assert.ErrorIs(t, err, ErrCryptoFailure)

	assert.NoError(t, Persistence("noop", nil))
	assert.NoError(t, Crypto("noop", nil))
}
