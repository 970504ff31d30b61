// Package vault stores small per-service credential blobs encrypted on local
// disk. One file per (service, owner) pair; the plaintext never touches disk.
//
// Encryption is mandatory: a vault constructed without a master secret fails
// every operation closed with common.ErrEncryptionUnavailable instead of
// falling back to plaintext.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/glimpse-app/glimpse/internal/common"
	"github.com/glimpse-app/glimpse/internal/cryptox"
	"github.com/glimpse-app/glimpse/internal/filex"
	"github.com/glimpse-app/glimpse/internal/logging"
)

const fileExt = ".cred"

// envelope is the on-disk format. The salt is generated per file, so two
// vaults with the same master secret never share derived keys.
type envelope struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Vault encrypts and decrypts credential blobs under a directory.
type Vault struct {
	dir    string
	secret []byte
	logger logging.Logger
}

// New creates a Vault rooted at dir. An empty secret produces a vault whose
// operations all fail closed.
func New(dir string, secret []byte, logger logging.Logger) (*Vault, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("vault dir error: %w", err)
	}
	return &Vault{dir: abs, secret: secret, logger: logger}, nil
}

func (v *Vault) available() bool {
	return len(v.secret) > 0
}

// fileName builds the per-(service, owner) file path. Both parts are
// sanitized so a crafted service name cannot escape the vault directory.
func (v *Vault) fileName(service, ownerID string) string {
	clean := func(s string) string {
		s = strings.ReplaceAll(s, string(os.PathSeparator), "_")
		return strings.ReplaceAll(s, "..", "_")
	}
	return filepath.Join(v.dir, clean(service)+"__"+clean(ownerID)+fileExt)
}

// Store encrypts credentials and writes them for (service, ownerID),
// replacing any previous blob.
func (v *Vault) Store(ctx context.Context, service, ownerID string, credentials map[string]any) error {
	if !v.available() {
		return common.ErrEncryptionUnavailable
	}

	salt := common.GenerateRandByteArray(16)
	key := cryptox.DeriveKey(v.secret, salt)
	defer common.WipeByteArray(key)

	ciphertext, nonce, err := cryptox.Seal(credentials, key)
	if err != nil {
		return fmt.Errorf("seal error: %w", err)
	}

	b, err := json.Marshal(envelope{Salt: salt, Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return fmt.Errorf("envelope marshal error: %w", err)
	}

	path := v.fileName(service, ownerID)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("vault write error: %w", err)
	}
	v.logger.Info(ctx, "credential stored", "service", service)
	return nil
}

// Get decrypts and returns the credentials for (service, ownerID).
// Returns common.ErrorNotFound if no blob exists.
func (v *Vault) Get(ctx context.Context, service, ownerID string) (map[string]any, error) {
	if !v.available() {
		return nil, common.ErrEncryptionUnavailable
	}

	b, err := os.ReadFile(v.fileName(service, ownerID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("vault read error: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("envelope parse error: %w", err)
	}

	key := cryptox.DeriveKey(v.secret, env.Salt)
	defer common.WipeByteArray(key)

	var credentials map[string]any
	if err := cryptox.Open(env.Ciphertext, env.Nonce, key, &credentials); err != nil {
		return nil, fmt.Errorf("open error: %w", err)
	}
	return credentials, nil
}

// Remove deletes the blob for (service, ownerID). Removing a blob that does
// not exist is a success.
func (v *Vault) Remove(ctx context.Context, service, ownerID string) error {
	if !v.available() {
		return common.ErrEncryptionUnavailable
	}

	err := os.Remove(v.fileName(service, ownerID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("vault remove error: %w", err)
	}
	return nil
}

// List returns the service names that have a stored blob for ownerID.
func (v *Vault) List(ctx context.Context, ownerID string) ([]string, error) {
	if !v.available() {
		return nil, common.ErrEncryptionUnavailable
	}

	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, fmt.Errorf("vault list error: %w", err)
	}

	suffix := "__" + ownerID + fileExt
	services := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, suffix) {
			services = append(services, strings.TrimSuffix(name, suffix))
		}
	}
	return services, nil
}
