//go:build !cgo
// +build !cgo

package rfbadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultFactoryUnavailableWithoutCgo(t *testing.T) {
	a, err := DefaultFactory()
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrAdapterUnavailable)
}
