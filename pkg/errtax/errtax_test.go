package errtax_test

import (
	"errors"
	"testing"

	"github.com/kraklabs/unitcache/pkg/errtax"
	"github.com/stretchr/testify/assert"
)

func TestWrap_PreservesCode(t *testing.T) {
	err := errtax.Wrap(errtax.NotFound, errors.New("boom"))
	assert.True(t, errtax.Is(err, errtax.NotFound))
	assert.False(t, errtax.Is(err, errtax.HashMismatch))
	assert.Equal(t, errtax.NotFound, errtax.CodeOf(err))
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.Nil(t, errtax.Wrap(errtax.Internal, nil))
}

func TestNewf_FormatsMessage(t *testing.T) {
	err := errtax.Newf(errtax.HashMismatch, "wanted %s got %s", "a", "b")
	assert.Contains(t, err.Error(), "wanted a got b")
	assert.Contains(t, err.Error(), "hash-mismatch")
}

func TestCodeOf_DefaultsToInternal(t *testing.T) {
	assert.Equal(t, errtax.Internal, errtax.CodeOf(errors.New("plain")))
}
