// Package veyon implements component D: the vendor security sub-handshake
// Veyon servers run over the already-open RFB socket, immediately after
// the standard RFB security type negotiation picks the vendor's security
// type. The wire format is a small self-describing variant array, the Go
// equivalent of Qt's QVariant-tagged SocketDevice messages in
// VeyonVncConnection::handleSecTypeVeyon.
package veyon

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/veyon-go/rfbengine/internal/rfberr"
)

// tag identifies the Go type encoded in one variant slot.
type tag uint32

const (
	tagInt32 tag = iota + 1
	tagUint32
	tagBool
	tagBytes
	tagString
)

// Conn is the minimal byte-stream contract the codec needs; it is
// satisfied by rfbadapter.Adapter's ReadFromServer/WriteToServer pair.
type Conn interface {
	ReadFromServer(buf []byte) (int, error)
	WriteToServer(buf []byte) (int, error)
}

// Message is an ordered list of variants, matching VariantArrayMessage.
// Values are read back in the order they were written.
type Message struct {
	values []any
	pos    int
}

// NewMessage creates an empty outgoing message.
func NewMessage() *Message {
	return &Message{}
}

// WriteInt32 appends a signed 32-bit integer.
func (m *Message) WriteInt32(v int32) { m.values = append(m.values, v) }

// WriteUint32 appends an unsigned 32-bit integer.
func (m *Message) WriteUint32(v uint32) { m.values = append(m.values, v) }

// WriteBool appends a boolean.
func (m *Message) WriteBool(v bool) { m.values = append(m.values, v) }

// WriteBytes appends a length-prefixed byte slice.
func (m *Message) WriteBytes(v []byte) { m.values = append(m.values, append([]byte(nil), v...)) }

// WriteString appends a length-prefixed UTF-8 string.
func (m *Message) WriteString(v string) { m.values = append(m.values, v) }

// ReadInt32 pops the next variant as an int32.
func (m *Message) ReadInt32() (int32, error) {
	v, err := m.next()
	if err != nil {
		return 0, err
	}
	n, ok := v.(int32)
	if !ok {
		return 0, rfberr.Protocolf("veyon.Message.ReadInt32", "unexpected variant type", nil)
	}
	return n, nil
}

// ReadUint32 pops the next variant as a uint32.
func (m *Message) ReadUint32() (uint32, error) {
	v, err := m.next()
	if err != nil {
		return 0, err
	}
	n, ok := v.(uint32)
	if !ok {
		return 0, rfberr.Protocolf("veyon.Message.ReadUint32", "unexpected variant type", nil)
	}
	return n, nil
}

// ReadBytes pops the next variant as a byte slice.
func (m *Message) ReadBytes() ([]byte, error) {
	v, err := m.next()
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, rfberr.Protocolf("veyon.Message.ReadBytes", "unexpected variant type", nil)
	}
	return b, nil
}

// ReadString pops the next variant as a string.
func (m *Message) ReadString() (string, error) {
	v, err := m.next()
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", rfberr.Protocolf("veyon.Message.ReadString", "unexpected variant type", nil)
	}
	return s, nil
}

func (m *Message) next() (any, error) {
	if m.pos >= len(m.values) {
		return nil, rfberr.Protocolf("veyon.Message.next", "variant array exhausted", nil)
	}
	v := m.values[m.pos]
	m.pos++
	return v, nil
}

// Send encodes the message as [uint32 count]([uint32 tag][payload])* and
// writes it to conn in one call, mirroring VariantArrayMessage::send.
func (m *Message) Send(conn Conn) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(m.values))); err != nil {
		return rfberr.Wrap("veyon.Message.Send", rfberr.Protocol, "encoding variant count", err)
	}
	for _, v := range m.values {
		if err := encodeVariant(&buf, v); err != nil {
			return err
		}
	}
	if _, err := conn.WriteToServer(buf.Bytes()); err != nil {
		return rfberr.Wrap("veyon.Message.Send", rfberr.Network, "writing variant array", err)
	}
	return nil
}

// Receive reads one full variant array message from conn, replacing any
// values already on m, mirroring VariantArrayMessage::receive.
func (m *Message) Receive(conn Conn) error {
	countBuf := make([]byte, 4)
	if err := readFull(conn, countBuf); err != nil {
		return err
	}
	count := binary.BigEndian.Uint32(countBuf)

	values := make([]any, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := decodeVariant(conn)
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	m.values = values
	m.pos = 0
	return nil
}

func encodeVariant(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case int32:
		binary.Write(buf, binary.BigEndian, uint32(tagInt32))
		binary.Write(buf, binary.BigEndian, val)
	case uint32:
		binary.Write(buf, binary.BigEndian, uint32(tagUint32))
		binary.Write(buf, binary.BigEndian, val)
	case bool:
		binary.Write(buf, binary.BigEndian, uint32(tagBool))
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case []byte:
		binary.Write(buf, binary.BigEndian, uint32(tagBytes))
		binary.Write(buf, binary.BigEndian, uint32(len(val)))
		buf.Write(val)
	case string:
		binary.Write(buf, binary.BigEndian, uint32(tagString))
		b := []byte(val)
		binary.Write(buf, binary.BigEndian, uint32(len(b)))
		buf.Write(b)
	default:
		return rfberr.Protocolf("veyon.encodeVariant", "unsupported variant value type", nil)
	}
	return nil
}

func decodeVariant(conn Conn) (any, error) {
	header := make([]byte, 4)
	if err := readFull(conn, header); err != nil {
		return nil, err
	}
	switch tag(binary.BigEndian.Uint32(header)) {
	case tagInt32:
		b := make([]byte, 4)
		if err := readFull(conn, b); err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(b)), nil
	case tagUint32:
		b := make([]byte, 4)
		if err := readFull(conn, b); err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint32(b), nil
	case tagBool:
		b := make([]byte, 1)
		if err := readFull(conn, b); err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case tagBytes:
		return readLengthPrefixed(conn)
	case tagString:
		b, err := readLengthPrefixed(conn)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return nil, rfberr.Protocolf("veyon.decodeVariant", "unknown variant tag", nil)
	}
}

// maxVariantLength bounds a single bytes/string variant's length prefix.
// Nothing the Veyon sub-handshake exchanges (usernames, tokens, PEM keys,
// signatures, the fixed-size challenge) comes anywhere close to this; it
// exists so a malicious or corrupted server can't make a length prefix
// alone trigger a multi-gigabyte allocation before any data is read.
const maxVariantLength = 1 << 20

func readLengthPrefixed(conn Conn) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if err := readFull(conn, lenBuf); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n > maxVariantLength {
		return nil, rfberr.Protocolf("veyon.readLengthPrefixed", "variant length exceeds maximum", nil)
	}
	data := make([]byte, n)
	if n > 0 {
		if err := readFull(conn, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// readFull reads exactly len(buf) bytes, looping over short reads the
// way net.Conn-backed adapters can produce.
func readFull(conn Conn, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := conn.ReadFromServer(buf[read:])
		if n > 0 {
			read += n
		}
		if err != nil {
			if err == io.EOF && read == len(buf) {
				break
			}
			return rfberr.Wrap("veyon.readFull", rfberr.Network, "short read", err)
		}
		if n == 0 {
			return rfberr.Networkf("veyon.readFull", "connection closed mid-message", nil)
		}
	}
	return nil
}
