package veyon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageRoundTrip(t *testing.T) {
	sender, receiver := newPipePair()

	go func() {
		out := NewMessage()
		out.WriteUint32(3)
		out.WriteString("hello")
		out.WriteBytes([]byte{1, 2, 3, 4})
		out.WriteBool(true)
		out.Send(sender)
	}()

	in := NewMessage()
	assert.NoError(t, in.Receive(receiver))

	n, err := in.ReadUint32()
	assert.NoError(t, err)
	assert.Equal(t, uint32(3), n)

	s, err := in.ReadString()
	assert.NoError(t, err)
	assert.Equal(t, "hello", s)

	b, err := in.ReadBytes()
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, b)
}

func TestReadPastEndReturnsError(t *testing.T) {
	m := NewMessage()
	_, err := m.ReadUint32()
	assert.Error(t, err)
}

func TestReadWrongTypeReturnsError(t *testing.T) {
	sender, receiver := newPipePair()

	go func() {
		out := NewMessage()
		out.WriteString("not a number")
		out.Send(sender)
	}()

	in := NewMessage()
	assert.NoError(t, in.Receive(receiver))

	_, err := in.ReadUint32()
	assert.Error(t, err)
}
