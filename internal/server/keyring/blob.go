package keyring

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/cryptox"
)

const (
	blobVersion = 1
	kdfArgon2id = "argon2id"
	saltSize    = 16
)

// Properties are the secret key/value pairs sealed inside a Blob.
type Properties map[string]string

// Blob is the at-rest form of the key hierarchy. Data is Properties as JSON,
// AES-GCM encrypted under a key derived from the master key and Salt.
type Blob struct {
	V     int    `json:"v"`
	KDF   string `json:"kdf"`
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

var errBlobFormat = errors.New("unsupported key blob")

// Seal encrypts props under masterKey. It requires a COMMON_KEY property
// holding a base64 encoded 32-byte key.
func Seal(masterKey []byte, props Properties) (*Blob, error) {
	if _, err := decodeCommonKey(props); err != nil {
		return nil, err
	}
	salt := common.GenerateRandByteArray(saltSize)
	kek := cryptox.DeriveKEK(masterKey, salt)
	defer common.WipeByteArray(kek)

	ct, nonce, err := cryptox.EncryptEntry(props, kek)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return &Blob{V: blobVersion, KDF: kdfArgon2id, Salt: salt, Nonce: nonce, Data: ct}, nil
}

// Open decrypts b with masterKey.
func Open(masterKey []byte, b *Blob) (Properties, error) {
	if b == nil || b.V != blobVersion || b.KDF != kdfArgon2id || len(b.Salt) == 0 {
		return nil, errBlobFormat
	}
	kek := cryptox.DeriveKEK(masterKey, b.Salt)
	defer common.WipeByteArray(kek)

	props := Properties{}
	if err := cryptox.DecryptEntry(b.Data, b.Nonce, kek, &props); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return props, nil
}

// MarshalBlob and UnmarshalBlob convert between Blob and its stored bytes.
func MarshalBlob(b *Blob) ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

func UnmarshalBlob(data []byte) (*Blob, error) {
	b := &Blob{}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("%w: %v", errBlobFormat, err)
	}
	return b, nil
}

// NewCommonKey returns a fresh encoded COMMON_KEY value.
func NewCommonKey() string {
	return base64.StdEncoding.EncodeToString(common.GenerateRandByteArray(cryptox.KeySize))
}

func decodeCommonKey(props Properties) ([]byte, error) {
	v, ok := props[common.ConfigCommonKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", errBlobFormat, common.ConfigCommonKey)
	}
	k, err := base64.StdEncoding.DecodeString(v)
	if err != nil || len(k) != cryptox.KeySize {
		return nil, fmt.Errorf("%w: bad %s", errBlobFormat, common.ConfigCommonKey)
	}
	return k, nil
}
