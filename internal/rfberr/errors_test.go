package rfberr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap("op", Network, "msg", nil))
}

func TestErrorFormatting(t *testing.T) {
	err := Networkf("Connect", "dial failed", errors.New("boom"))
	assert.Contains(t, err.Error(), "network")
	assert.Contains(t, err.Error(), "Connect")
	assert.Contains(t, err.Error(), "boom")
}

func TestIsMatchesCode(t *testing.T) {
	err := Authenticationf("handleSecTypeVeyon", "bad challenge size", nil)
	assert.True(t, Is(err, Authentication))
	assert.False(t, Is(err, Network))
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := Timeoutf("waitForMessage", "no response", inner)
	assert.True(t, errors.Is(err, inner))
}
