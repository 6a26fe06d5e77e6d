package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
)

const DefaultBits = 3072

// NativeGenerator creates RSA keys in process and writes them in OpenSSH
// format.
type NativeGenerator struct {
	Fs   afero.Fs
	Bits int
}

func (g NativeGenerator) Generate(ctx context.Context, privatePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bits := g.Bits
	if bits == 0 {
		bits = DefaultBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", fmt.Errorf("generating RSA key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		return "", fmt.Errorf("encoding private key: %w", err)
	}
	if err := afero.WriteFile(g.Fs, privatePath, pem.EncodeToMemory(block), 0o600); err != nil {
		return "", fmt.Errorf("writing private key: %w", err)
	}
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	if err := afero.WriteFile(g.Fs, privatePath+".pub", ssh.MarshalAuthorizedKey(pub), 0o644); err != nil {
		return "", fmt.Errorf("writing public key: %w", err)
	}
	return ReadPublicKey(g.Fs, privatePath)
}

// ReadPublicKey derives the authorized_keys line from the private key file.
func ReadPublicKey(fsys afero.Fs, privatePath string) (string, error) {
	data, err := afero.ReadFile(fsys, privatePath)
	if err != nil {
		return "", fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return "", fmt.Errorf("parsing private key: %w", err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}
