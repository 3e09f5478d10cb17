// Package payload opens the confidential fields clients encrypt inside
// request bodies.
//
// Unauthenticated forms encrypt each field with RSA-OAEP(SHA-256) under the
// deployment's MASTER_PUBLIC_KEY. Authenticated forms encrypt with AES-GCM
// under the per-session request key. Fields are base64 on the wire.
package payload

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/cryptox"
)

type Secrets interface {
	ConfigValue(key string) (string, error)
}

type Decryptor struct {
	secrets Secrets
}

func NewDecryptor(secrets Secrets) *Decryptor {
	return &Decryptor{secrets: secrets}
}

func (d *Decryptor) masterKey() (*rsa.PrivateKey, error) {
	v, err := d.secrets.ConfigValue(common.ConfigMasterPrivateKey)
	if err != nil {
		return nil, err
	}
	k, err := cryptox.DecodePrivateKeyPEM([]byte(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCipher, err)
	}
	return k, nil
}

// OpenMasterFields decrypts each non-empty field in place. Empty fields stay
// empty so the caller's validation reports them as missing.
func (d *Decryptor) OpenMasterFields(fields ...*string) error {
	var key *rsa.PrivateKey
	for _, f := range fields {
		if f == nil || *f == "" {
			continue
		}
		if key == nil {
			var err error
			if key, err = d.masterKey(); err != nil {
				return err
			}
		}
		raw, err := base64.StdEncoding.DecodeString(*f)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrCipher, err)
		}
		pt, err := cryptox.DecryptOAEP(key, raw)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrCipher, err)
		}
		*f = string(pt)
	}
	return nil
}

// OpenRequestFields decrypts each non-empty field in place with requestKey.
func OpenRequestFields(requestKey []byte, fields ...*string) error {
	for _, f := range fields {
		if f == nil || *f == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(*f)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrCipher, err)
		}
		pt, err := cryptox.Open(requestKey, raw, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrCipher, err)
		}
		*f = string(pt)
	}
	return nil
}

// SealMasterField is the client side of OpenMasterFields.
func SealMasterField(pub *rsa.PublicKey, plain string) (string, error) {
	ct, err := cryptox.EncryptOAEP(pub, []byte(plain))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// SealRequestField is the client side of OpenRequestFields.
func SealRequestField(requestKey []byte, plain string) (string, error) {
	ct, err := cryptox.Seal(requestKey, []byte(plain), nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}
