package auth

import (
	"crypto/rand"
	"crypto/rsa"

	"github.com/google/uuid"
)

// KeySet holds the RSA signing key for access tokens. Tokens carry the key
// ID in their header so rotation stays possible.
type KeySet struct {
	privateKey *rsa.PrivateKey
	kid        string
}

// NewKeySet generates a fresh 2048-bit signing key.
func NewKeySet() (*KeySet, error) {
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &KeySet{privateKey: pk, kid: uuid.NewString()}, nil
}

func (ks *KeySet) PrivateKey() *rsa.PrivateKey { return ks.privateKey }

func (ks *KeySet) PublicKey() *rsa.PublicKey {
	if ks.privateKey == nil {
		return nil
	}
	return &ks.privateKey.PublicKey
}

func (ks *KeySet) KeyID() string { return ks.kid }
