// Package common contains shared constants and sentinel errors used across
// the vault server and its operator tooling.
package common

// Request headers understood by the REST surface.
const (
	AuthorizationHeaderName = "Authorization"
	SignatureHeaderName     = "message-signature"
	TimestampHeaderName     = "timestamp"
)

// Keys of the properties sealed inside the key blob. They are only readable
// while the key hierarchy is unlocked.
const (
	ConfigCommonKey        = "COMMON_KEY"
	ConfigJWTSecret        = "JWT_SECRET"
	ConfigClientID         = "CLIENT_ID"
	ConfigClientSecret     = "CLIENT_SECRET"
	ConfigMailUser         = "MAIL_USER"
	ConfigMailPass         = "MAIL_PASS"
	ConfigMasterPublicKey  = "MASTER_PUBLIC_KEY"
	ConfigMasterPrivateKey = "MASTER_PRIVATE_KEY"
)

// Real-time channel commands.
const (
	CmdClientPing = "CLIENT_PING"
	CmdLockDevice = "CMD_LOCK_DEVICE"
)
