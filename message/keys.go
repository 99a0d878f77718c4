package message

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// KeyPair holds an Ed25519 signing key. Secrets are kept behind methods so
// call sites never touch raw key material.
type KeyPair struct {
	private ed25519.PrivateKey
}

func GenerateKeyPair() *KeyPair {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err) // entropy failure, nothing sensible to do
	}
	return &KeyPair{private: private}
}

func (kp *KeyPair) GetPubKey() PublicKeyBytes {
	var pk PublicKeyBytes
	copy(pk[:], kp.private.Public().(ed25519.PublicKey))
	return pk
}

// Sign produces a detached signature over the given canonical bytes. Ed25519
// is deterministic: signing the same bytes twice yields the same signature.
func (kp *KeyPair) Sign(digest []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(kp.private, digest))
	return sig
}

// VerifySignature checks a detached signature against a public key.
func VerifySignature(author PublicKeyBytes, digest []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(author[:]), digest, sig[:])
}

// The JSON form is the 64-byte dalek-style seed||public hex string used in
// configuration files.
func (kp *KeyPair) MarshalJSON() ([]byte, error) {
	raw := make([]byte, 0, ed25519.PrivateKeySize)
	raw = append(raw, kp.private.Seed()...)
	raw = append(raw, kp.private.Public().(ed25519.PublicKey)...)
	return json.Marshal(hex.EncodeToString(raw))
}

func (kp *KeyPair) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrap(err, "invalid key pair")
	}
	if len(raw) != ed25519.PrivateKeySize {
		return errors.Errorf("invalid key pair length %d", len(raw))
	}
	kp.private = ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	return nil
}
