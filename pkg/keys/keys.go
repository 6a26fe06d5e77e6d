package keys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
	"github.com/storacha/torrent-sync/pkg/model"
)

var log = logging.Logger("keys")

var ErrKeyGeneration = errors.New("key generation failed")

// Generator writes a fresh passphrase-less keypair at privatePath (public
// half at privatePath + ".pub") and returns the public key read back from the
// private key, in authorized_keys format.
type Generator interface {
	Generate(ctx context.Context, privatePath string) (string, error)
}

// Manager owns the ephemeral key files in a single directory. Files are named
// after the transfer they belong to.
type Manager struct {
	fs  afero.Fs
	dir string
	gen Generator
}

func NewManager(fsys afero.Fs, dir string, gen Generator) *Manager {
	return &Manager{fs: fsys, dir: dir, gen: gen}
}

func (m *Manager) PrivateKeyPath(transferID string) string {
	return filepath.Join(m.dir, transferID)
}

func (m *Manager) PublicKeyPath(transferID string) string {
	return m.PrivateKeyPath(transferID) + ".pub"
}

// Create replaces any stale key for transferID with a freshly generated one.
func (m *Manager) Create(ctx context.Context, transferID string) (model.Credential, error) {
	if err := model.ValidateTransferID(transferID); err != nil {
		return model.Credential{}, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	if err := m.fs.MkdirAll(m.dir, 0o700); err != nil {
		return model.Credential{}, fmt.Errorf("%w: creating key folder: %w", ErrKeyGeneration, err)
	}

	priv := m.PrivateKeyPath(transferID)
	log.Infof("generating key at: %s", priv)
	removed, err := m.remove(transferID)
	if err != nil {
		return model.Credential{}, fmt.Errorf("%w: removing previous key: %w", ErrKeyGeneration, err)
	}
	if removed > 0 {
		log.Debugf("removed previous key at: %s", priv)
	}

	pub, err := m.gen.Generate(ctx, priv)
	if err == nil && strings.TrimSpace(pub) == "" {
		err = fmt.Errorf("empty public key for %s", transferID)
	}
	if err != nil {
		// The generator may have written part of the pair before failing.
		if _, rerr := m.remove(transferID); rerr != nil {
			log.Errorf("removing partial key %s: %s", priv, rerr)
			err = errors.Join(err, rerr)
		}
		return model.Credential{}, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	pub = strings.TrimSpace(pub)

	return model.Credential{
		TransferID:     transferID,
		PrivateKeyPath: priv,
		PublicKeyPath:  m.PublicKeyPath(transferID),
		PublicKey:      pub,
	}, nil
}

// Destroy removes both key files for transferID. Missing files are not an
// error, so Destroy may be called any number of times.
func (m *Manager) Destroy(transferID string) error {
	if err := model.ValidateTransferID(transferID); err != nil {
		return err
	}
	removed, err := m.remove(transferID)
	if err != nil {
		return fmt.Errorf("destroying key %s: %w", transferID, err)
	}
	log.Debugf("destroyed key %s (%d files)", transferID, removed)
	return nil
}

func (m *Manager) remove(transferID string) (int, error) {
	removed := 0
	var errs []error
	for _, p := range []string{m.PrivateKeyPath(transferID), m.PublicKeyPath(transferID)} {
		err := m.fs.Remove(p)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, os.ErrNotExist):
		default:
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

// Sweep removes key files last modified before now minus maxAge. It returns
// the paths it removed. Keys only outlive their transfer when the process
// died between grant and cleanup.
func (m *Manager) Sweep(maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading key folder: %w", err)
	}
	cutoff := now.Add(-maxAge)
	var removed []string
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !e.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(m.dir, e.Name())
		if err := m.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		log.Infof("swept stale key file: %s", p)
		removed = append(removed, p)
	}
	return removed, errors.Join(errs...)
}
