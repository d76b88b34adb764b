package veyon

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"math/big"

	"github.com/veyon-go/rfbengine/internal/rfberr"
)

// padBigInt left-pads v's big-endian bytes to exactly size bytes.
func padBigInt(v *big.Int, size int) []byte {
	b := v.Bytes()
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// AuthType enumerates the four vendor authentication schemes a server may
// offer, matching RfbVeyonAuth::Type.
type AuthType uint32

const (
	AuthToken         AuthType = 1
	AuthHostAllowList AuthType = 2
	AuthLogon         AuthType = 3
	AuthKeyFile       AuthType = 4
)

// ChallengeSize is the fixed length in bytes of the server-issued KeyFile
// challenge, matching CryptoCore::ChallengeSize.
const ChallengeSize = 64

// SecurityType is the RFB security type ID a Veyon server advertises
// during the standard security negotiation to select this vendor
// sub-handshake. The cgo adapter registers it with libvncclient via
// rfbClientRegisterExtraSecurityType so rfbInitClient recognizes the type
// instead of failing negotiation outright.
const SecurityType uint32 = 19

// Credentials supplies whatever the chosen auth scheme needs. A KeyFile
// negotiation without a PrivateKey fails with an authentication error; the
// Logon and Token schemes send whatever their fields hold, empty or not.
type Credentials struct {
	Username string

	// PrivateKey signs the KeyFile challenge; KeyName identifies it to
	// the server the way a named key file would.
	PrivateKey *ecdsa.PrivateKey
	KeyName    string

	// LogonPassword is RSA-OAEP encrypted against the server's public
	// key for the Logon scheme.
	LogonPassword string

	// Token is sent verbatim for the Token scheme.
	Token string
}

// Negotiate runs the full vendor sub-handshake over conn and returns nil
// on success, mirroring VeyonVncConnection::handleSecTypeVeyon end to end.
// preferred, when nonzero, is tried against the server's offered type list
// before falling back to the server's first-listed type.
func Negotiate(conn Conn, creds Credentials, preferred AuthType) error {
	offer := NewMessage()
	if err := offer.Receive(conn); err != nil {
		return rfberr.Wrap("veyon.Negotiate", rfberr.Protocol, "receiving offered auth types", err)
	}

	count, err := offer.ReadUint32()
	if err != nil {
		return rfberr.Wrap("veyon.Negotiate", rfberr.Protocol, "reading auth type count", err)
	}

	var offered []AuthType
	for i := uint32(0); i < count; i++ {
		v, err := offer.ReadUint32()
		if err != nil {
			return rfberr.Wrap("veyon.Negotiate", rfberr.Protocol, "reading auth type entry", err)
		}
		offered = append(offered, AuthType(v))
	}

	chosen := AuthToken
	if len(offered) > 0 {
		chosen = offered[0]
		if preferred != 0 {
			for _, t := range offered {
				if t == preferred {
					chosen = preferred
					break
				}
			}
		}
	}

	reply := NewMessage()
	reply.WriteUint32(uint32(chosen))
	if creds.Username != "" {
		reply.WriteString(creds.Username)
	} else {
		reply.WriteString("")
	}
	if err := reply.Send(conn); err != nil {
		return rfberr.Wrap("veyon.Negotiate", rfberr.Network, "sending chosen auth type", err)
	}

	ack := NewMessage()
	if err := ack.Receive(conn); err != nil {
		return rfberr.Wrap("veyon.Negotiate", rfberr.Protocol, "receiving auth ack", err)
	}

	switch chosen {
	case AuthKeyFile:
		return negotiateKeyFile(conn, creds)
	case AuthHostAllowList:
		return nil
	case AuthLogon:
		return negotiateLogon(conn, creds)
	case AuthToken:
		return negotiateToken(conn, creds)
	default:
		return rfberr.Authenticationf("veyon.Negotiate", "server chose an unsupported auth type", nil)
	}
}

func negotiateKeyFile(conn Conn, creds Credentials) error {
	if creds.PrivateKey == nil {
		return rfberr.Authenticationf("veyon.negotiateKeyFile", "no private key available", nil)
	}

	challengeMsg := NewMessage()
	if err := challengeMsg.Receive(conn); err != nil {
		return rfberr.Wrap("veyon.negotiateKeyFile", rfberr.Protocol, "receiving challenge", err)
	}
	challenge, err := challengeMsg.ReadBytes()
	if err != nil {
		return rfberr.Wrap("veyon.negotiateKeyFile", rfberr.Protocol, "reading challenge bytes", err)
	}
	if len(challenge) != ChallengeSize {
		return rfberr.Authenticationf("veyon.negotiateKeyFile", "challenge size mismatch", nil)
	}

	hash := sha512.Sum384(challenge)
	r, s, err := ecdsa.Sign(rand.Reader, creds.PrivateKey, hash[:])
	if err != nil {
		return rfberr.Wrap("veyon.negotiateKeyFile", rfberr.Authentication, "signing challenge", err)
	}
	// P-384 field elements are fixed at 48 bytes; pad so the receiver can
	// split the concatenated signature back into r and s unambiguously.
	fieldSize := (creds.PrivateKey.Curve.Params().BitSize + 7) / 8
	signature := append(padBigInt(r, fieldSize), padBigInt(s, fieldSize)...)

	response := NewMessage()
	response.WriteString(creds.KeyName)
	response.WriteBytes(signature)
	if err := response.Send(conn); err != nil {
		return rfberr.Wrap("veyon.negotiateKeyFile", rfberr.Network, "sending signed challenge", err)
	}
	return nil
}

func negotiateLogon(conn Conn, creds Credentials) error {
	pubMsg := NewMessage()
	if err := pubMsg.Receive(conn); err != nil {
		return rfberr.Wrap("veyon.negotiateLogon", rfberr.Protocol, "receiving public key", err)
	}
	pemStr, err := pubMsg.ReadString()
	if err != nil {
		return rfberr.Wrap("veyon.negotiateLogon", rfberr.Protocol, "reading public key bytes", err)
	}

	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return rfberr.Authenticationf("veyon.negotiateLogon", "malformed public key PEM", nil)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return rfberr.Wrap("veyon.negotiateLogon", rfberr.Authentication, "parsing public key", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return rfberr.Authenticationf("veyon.negotiateLogon", "server public key is not RSA", nil)
	}

	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, []byte(creds.LogonPassword), nil)
	if err != nil {
		return rfberr.Wrap("veyon.negotiateLogon", rfberr.Authentication, "encrypting password", err)
	}

	response := NewMessage()
	response.WriteBytes(encrypted)
	if err := response.Send(conn); err != nil {
		return rfberr.Wrap("veyon.negotiateLogon", rfberr.Network, "sending encrypted password", err)
	}
	return nil
}

func negotiateToken(conn Conn, creds Credentials) error {
	response := NewMessage()
	response.WriteString(creds.Token)
	if err := response.Send(conn); err != nil {
		return rfberr.Wrap("veyon.negotiateToken", rfberr.Network, "sending token", err)
	}
	return nil
}
