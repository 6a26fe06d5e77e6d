package model

// Credential is an ephemeral SSH keypair bound to a single transfer.
type Credential struct {
	TransferID     string
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      string // authorized_keys format, no trailing newline
}
