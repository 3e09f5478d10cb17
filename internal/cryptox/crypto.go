// Package cryptox wraps the primitives the vault is built on: AES-GCM
// sealing, argon2id and HKDF key derivation, and RSA-OAEP transport keys.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
)

// NonceSize is the AES-GCM standard nonce length.
const NonceSize = 12

var ErrMalformed = errors.New("malformed ciphertext")

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with AES-GCM under key using a fresh random nonce
// and returns nonce||ciphertext.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return SealWithNonce(key, nonce, plaintext, aad)
}

// SealWithNonce is Seal with a caller-chosen nonce. Reusing a nonce under the
// same key for different plaintexts breaks GCM, so callers must derive it
// from the plaintext itself (see SyntheticNonce).
func SealWithNonce(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aesgcm.Overhead())
	out = append(out, nonce...)
	return aesgcm.Seal(out, nonce, plaintext, aad), nil
}

// Open reverses Seal.
func Open(key, sealed, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aesgcm.NonceSize()+aesgcm.Overhead() {
		return nil, ErrMalformed
	}
	nonce, ct := sealed[:aesgcm.NonceSize()], sealed[aesgcm.NonceSize():]
	return aesgcm.Open(nil, nonce, ct, aad)
}

// SyntheticNonce derives a GCM nonce from the plaintext with HMAC-SHA256 so
// that equal plaintexts under the same key produce equal ciphertexts.
func SyntheticNonce(macKey, plaintext []byte) []byte {
	m := hmac.New(sha256.New, macKey)
	m.Write(plaintext)
	return m.Sum(nil)[:NonceSize]
}

// EncryptEntry serializes the given entry to JSON and encrypts it using AES-GCM.
//
// The key must be a valid AES key length (16, 24, or 32 bytes). A new random
// 12-byte nonce is generated for each encryption. The ciphertext and nonce are
// returned separately.
func EncryptEntry(entry any, key []byte) (ciphertext, nonce []byte, err error) {

	// serializing JSON
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}

	// nonce
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// DecryptEntry decrypts the given ciphertext using AES-GCM and unmarshals
// the resulting JSON into the provided value v.
//
// The key and nonce must be the ones used by EncryptEntry.
func DecryptEntry(ciphertext, nonce, key []byte, v any) error {
	aesgcm, err := newGCM(key)
	if err != nil {
		return err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return ErrMalformed
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}

	return json.Unmarshal(plaintext, v)
}
