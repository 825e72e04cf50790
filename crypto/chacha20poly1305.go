package crypto

import (
	crypto_rand "crypto/rand"
	"fmt"
	"io"

	"github.com/kevinburke/nacl"
	"github.com/kevinburke/nacl/box"
	"golang.org/x/crypto/chacha20poly1305"
)

var zeroNonce12 = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

// SliceToKey converts locally generated key material. It panics on a wrong
// length, so key material arriving from the wire must go through KeyFromSlice
// instead.
func SliceToKey(b []byte) nacl.Key {
	return nacl.Key(b)
}

// KeyFromSlice validates key material before conversion. A peer or backend
// can hand us byte strings of any length; those must fail as errors, not
// crash the process.
func KeyFromSlice(b []byte) (nacl.Key, error) {
	if len(b) != nacl.KeySize {
		return nil, fmt.Errorf("crypto: expected %d-byte key, got %d", nacl.KeySize, len(b))
	}
	return nacl.Key(b), nil
}

// EncryptWithKey seals with a zero nonce. Only safe for keys used exactly
// once, such as ratchet message keys.
func EncryptWithKey(key, msg, ad []byte) ([]byte, error) {
	if len(key) != 32 {
		panic("key is wrong length")
	}
	cipher, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.Seal(nil, zeroNonce12, msg, ad), nil
}

func DecryptWithKey(key, enc, ad []byte) ([]byte, error) {
	if len(key) != 32 {
		panic("key is wrong length")
	}
	cipher, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.Open(nil, zeroNonce12, enc, ad)
}

// SealWithKey seals under a long-lived key with a random nonce prepended to
// the ciphertext.
func SealWithKey(key, msg, ad []byte) ([]byte, error) {
	if len(key) != 32 {
		panic("key is wrong length")
	}
	cipher, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(crypto_rand.Reader, nonce); err != nil {
		return nil, err
	}
	return cipher.Seal(nonce, nonce, msg, ad), nil
}

func OpenWithKey(key, enc, ad []byte) ([]byte, error) {
	if len(key) != 32 {
		panic("key is wrong length")
	}
	if len(enc) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("crypto: ciphertext too short")
	}
	cipher, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.Open(nil, enc[:chacha20poly1305.NonceSize], enc[chacha20poly1305.NonceSize:], ad)
}

// SealToPublicKey seals to a box public key using an ephemeral keypair whose
// public half is prepended to the result.
func SealToPublicKey(pub nacl.Key, msg []byte) ([]byte, error) {
	ephPub, ephPriv, err := box.GenerateKey(crypto_rand.Reader)
	if err != nil {
		return nil, err
	}
	shared := box.Precompute(pub, ephPriv)
	sealed, err := SealWithKey(shared[:], msg, nil)
	if err != nil {
		return nil, err
	}
	return append(ephPub[:], sealed...), nil
}

func OpenWithPrivateKey(priv nacl.Key, enc []byte) ([]byte, error) {
	if len(enc) < 32 {
		return nil, fmt.Errorf("crypto: sealed box too short")
	}
	var ephPub [32]byte
	copy(ephPub[:], enc[:32])
	shared := box.Precompute(SliceToKey(ephPub[:]), priv)
	return OpenWithKey(shared[:], enc[32:], nil)
}
