package veyon

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sendOffer(t *testing.T, conn Conn, types ...AuthType) {
	msg := NewMessage()
	msg.WriteUint32(uint32(len(types)))
	for _, ty := range types {
		msg.WriteUint32(uint32(ty))
	}
	assert.NoError(t, msg.Send(conn))
}

func readChosenReply(t *testing.T, conn Conn) (AuthType, string) {
	msg := NewMessage()
	assert.NoError(t, msg.Receive(conn))
	chosen, err := msg.ReadUint32()
	assert.NoError(t, err)
	username, err := msg.ReadString()
	assert.NoError(t, err)
	return AuthType(chosen), username
}

func sendAck(t *testing.T, conn Conn) {
	assert.NoError(t, NewMessage().Send(conn))
}

func TestNegotiateToken(t *testing.T) {
	client, server := newPipePair()
	done := make(chan error, 1)

	go func() {
		done <- Negotiate(client, Credentials{Username: "alice", Token: "secret-token"}, 0)
	}()

	sendOffer(t, server, AuthToken)
	chosen, username := readChosenReply(t, server)
	assert.Equal(t, AuthToken, chosen)
	assert.Equal(t, "alice", username)
	sendAck(t, server)

	tokenMsg := NewMessage()
	assert.NoError(t, tokenMsg.Receive(server))
	token, err := tokenMsg.ReadString()
	assert.NoError(t, err)
	assert.Equal(t, "secret-token", token)

	assert.NoError(t, <-done)
}

func TestNegotiateHostAllowList(t *testing.T) {
	client, server := newPipePair()
	done := make(chan error, 1)

	go func() {
		done <- Negotiate(client, Credentials{}, 0)
	}()

	sendOffer(t, server, AuthHostAllowList)
	chosen, _ := readChosenReply(t, server)
	assert.Equal(t, AuthHostAllowList, chosen)
	sendAck(t, server)

	assert.NoError(t, <-done)
}

func TestNegotiateKeyFile(t *testing.T) {
	client, server := newPipePair()

	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- Negotiate(client, Credentials{
			Username:   "bob",
			PrivateKey: priv,
			KeyName:    "classroom-key",
		}, AuthKeyFile)
	}()

	sendOffer(t, server, AuthKeyFile)
	chosen, _ := readChosenReply(t, server)
	assert.Equal(t, AuthKeyFile, chosen)
	sendAck(t, server)

	challenge := make([]byte, ChallengeSize)
	for i := range challenge {
		challenge[i] = byte(i)
	}
	challengeMsg := NewMessage()
	challengeMsg.WriteBytes(challenge)
	assert.NoError(t, challengeMsg.Send(server))

	responseMsg := NewMessage()
	assert.NoError(t, responseMsg.Receive(server))
	keyName, err := responseMsg.ReadString()
	assert.NoError(t, err)
	assert.Equal(t, "classroom-key", keyName)

	signature, err := responseMsg.ReadBytes()
	assert.NoError(t, err)

	half := len(signature) / 2
	r := new(big.Int).SetBytes(signature[:half])
	s := new(big.Int).SetBytes(signature[half:])

	hash := sha512.Sum384(challenge)
	assert.True(t, ecdsa.Verify(&priv.PublicKey, hash[:], r, s))

	assert.NoError(t, <-done)
}

func TestNegotiateLogon(t *testing.T) {
	client, server := newPipePair()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- Negotiate(client, Credentials{
			Username:      "carol",
			LogonPassword: "classroom-password",
		}, AuthLogon)
	}()

	sendOffer(t, server, AuthLogon)
	chosen, _ := readChosenReply(t, server)
	assert.Equal(t, AuthLogon, chosen)
	sendAck(t, server)

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	assert.NoError(t, err)
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))

	pubMsg := NewMessage()
	pubMsg.WriteString(pemStr)
	assert.NoError(t, pubMsg.Send(server))

	passwordMsg := NewMessage()
	assert.NoError(t, passwordMsg.Receive(server))
	encrypted, err := passwordMsg.ReadBytes()
	assert.NoError(t, err)

	decrypted, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, encrypted, nil)
	assert.NoError(t, err)
	assert.Equal(t, "classroom-password", string(decrypted))

	assert.NoError(t, <-done)
}
