package vaultctl

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/kaytervn/msa-backend/internal/common"
	"github.com/kaytervn/msa-backend/internal/cryptox"
	"github.com/kaytervn/msa-backend/internal/server/keyring"
)

const (
	jwtSecretLength    = 64
	clientSecretLength = 32
)

// NewProperties generates a fresh set of deployment secrets.
func NewProperties(mailUser, mailPass string) (keyring.Properties, error) {
	jwtSecret, err := common.MakeRandString(jwtSecretLength)
	if err != nil {
		return nil, err
	}
	clientSecret, err := common.MakeRandString(clientSecretLength)
	if err != nil {
		return nil, err
	}

	priv, err := cryptox.GenerateRSAKey()
	if err != nil {
		return nil, fmt.Errorf("generate master key pair: %w", err)
	}
	pub, err := cryptox.EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	privPEM, err := cryptox.EncodePrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}

	return keyring.Properties{
		common.ConfigCommonKey:        keyring.NewCommonKey(),
		common.ConfigJWTSecret:        jwtSecret,
		common.ConfigClientID:         uuid.NewString(),
		common.ConfigClientSecret:     clientSecret,
		common.ConfigMailUser:         mailUser,
		common.ConfigMailPass:         mailPass,
		common.ConfigMasterPublicKey:  pub,
		common.ConfigMasterPrivateKey: string(privPEM),
	}, nil
}

// WriteBlob seals props under masterKey and stores the result in dst.
func WriteBlob(ctx context.Context, dst keyring.Source, masterKey []byte, props keyring.Properties) error {
	blob, err := keyring.Seal(masterKey, props)
	if err != nil {
		return err
	}
	data, err := keyring.MarshalBlob(blob)
	if err != nil {
		return err
	}
	if err := dst.Store(ctx, data); err != nil {
		return fmt.Errorf("store key blob: %w", err)
	}
	return nil
}

// printClientSettings writes the values clients are configured with.
func printClientSettings(w io.Writer, props keyring.Properties) {
	fmt.Fprintf(w, "%s=%s\n", common.ConfigClientID, props[common.ConfigClientID])
	fmt.Fprintf(w, "%s=%s\n", common.ConfigClientSecret, props[common.ConfigClientSecret])
	fmt.Fprintf(w, "%s=%s\n", common.ConfigMasterPublicKey, props[common.ConfigMasterPublicKey])
}
