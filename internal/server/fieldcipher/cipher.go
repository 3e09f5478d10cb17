// Package fieldcipher encrypts individual record fields under subkeys of the
// common key.
//
// Deterministic mode derives the GCM nonce from the plaintext, so equal
// values encrypt to equal strings and can be used as lookup predicates.
// Randomized mode draws a fresh nonce per call. Both produce
// base64(nonce||ciphertext), so Decrypt does not need to know the mode.
package fieldcipher

import (
	"encoding/base64"
	"fmt"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/cryptox"
)

const (
	infoEnc = "msa/field/enc/v1"
	infoSIV = "msa/field/siv/v1"
)

// KeyProvider vends a copy of the current common key.
type KeyProvider interface {
	CommonKey() ([]byte, error)
}

type Cipher struct {
	keys KeyProvider
}

func New(keys KeyProvider) *Cipher {
	return &Cipher{keys: keys}
}

func (c *Cipher) subkeys() (enc, siv []byte, err error) {
	ck, err := c.keys.CommonKey()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", common.ErrCipher, err)
	}
	defer common.WipeByteArray(ck)

	enc, err = cryptox.DeriveSubkey(ck, nil, infoEnc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrCipher, err)
	}
	siv, err = cryptox.DeriveSubkey(ck, nil, infoSIV)
	if err != nil {
		common.WipeByteArray(enc)
		return nil, nil, fmt.Errorf("%w: %v", common.ErrCipher, err)
	}
	return enc, siv, nil
}

// EncryptDeterministic is for identifiers that are queried by equality.
func (c *Cipher) EncryptDeterministic(plain string) (string, error) {
	enc, siv, err := c.subkeys()
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(enc)
	defer common.WipeByteArray(siv)

	pt := []byte(plain)
	sealed, err := cryptox.SealWithNonce(enc, cryptox.SyntheticNonce(siv, pt), pt, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCipher, err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// EncryptRandom is for secrets that are never used as a query predicate.
func (c *Cipher) EncryptRandom(plain string) (string, error) {
	enc, siv, err := c.subkeys()
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(enc)
	defer common.WipeByteArray(siv)

	sealed, err := cryptox.Seal(enc, []byte(plain), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCipher, err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by either mode.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCipher, err)
	}
	enc, siv, err := c.subkeys()
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(enc)
	defer common.WipeByteArray(siv)

	pt, err := cryptox.Open(enc, raw, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCipher, err)
	}
	return string(pt), nil
}
