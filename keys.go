package certsd

import (
	"crypto"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-acme/lego/v4/certcrypto"
)

const (
	privateKeyPerm = 0o600
	dirPerm        = 0o700
)

// KeyStore loads and persists the ACME account key and the per domain certificate keys.
// Existing keys are never replaced; a key that cannot be parsed is an error.
type KeyStore struct {
	dataDir string
	logger  *slog.Logger

	accountKeyType certcrypto.KeyType
	domainKeyType  certcrypto.KeyType
}

func NewKeyStore(dataDir string, logger *slog.Logger) *KeyStore {
	if logger == nil {
		panic("NewKeyStore: received nil logger")
	}
	return &KeyStore{
		dataDir:        dataDir,
		logger:         logger.With("component", "keystore"),
		accountKeyType: certcrypto.EC256,
		domainKeyType:  certcrypto.EC384,
	}
}

func (s *KeyStore) AccountKeyPath() string {
	return filepath.Join(s.dataDir, AccountKeyFile)
}

// LoadAccountKey returns the persisted account key. found is false when no key file exists.
func (s *KeyStore) LoadAccountKey() (key crypto.Signer, found bool, err error) {
	key, err = readPrivateKey(s.AccountKeyPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("account key is present", "path", s.AccountKeyPath())
	return key, true, nil
}

// NewAccountKey generates an account key without persisting it.
func (s *KeyStore) NewAccountKey() (crypto.Signer, error) {
	return generateKey(s.accountKeyType)
}

// SaveAccountKey persists the account key with owner-only permissions.
func (s *KeyStore) SaveAccountKey(key crypto.Signer) error {
	if err := os.MkdirAll(s.dataDir, dirPerm); err != nil {
		return fmt.Errorf("keystore: create data dir: %w", err)
	}
	if err := writePrivateKey(s.AccountKeyPath(), key); err != nil {
		return err
	}
	s.logger.Info("account key saved", "path", s.AccountKeyPath())
	return nil
}

// LoadOrGenerateDomainKey ensures the variant directory exists and returns its domain key,
// generating and persisting a new one only when the key file is missing.
func (s *KeyStore) LoadOrGenerateDomainKey(paths Paths) (crypto.Signer, error) {
	if err := os.MkdirAll(paths.Dir, dirPerm); err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", paths.Dir, err)
	}

	key, err := readPrivateKey(paths.DomainKey)
	if err == nil {
		s.logger.Info("using existing domain key", "path", paths.DomainKey)
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	s.logger.Info("generating domain key", "path", paths.DomainKey)
	key, err = generateKey(s.domainKeyType)
	if err != nil {
		return nil, err
	}
	if err := writePrivateKey(paths.DomainKey, key); err != nil {
		return nil, err
	}
	return key, nil
}

func generateKey(keyType certcrypto.KeyType) (crypto.Signer, error) {
	pk, err := certcrypto.GeneratePrivateKey(keyType)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate %s key: %w", keyType, err)
	}
	signer, ok := pk.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("keystore: generated %s key is not a signer", keyType)
	}
	return signer, nil
}

func readPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pk, err := certcrypto.ParsePEMPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("keystore: parse %s: %w", path, err)
	}
	signer, ok := pk.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("keystore: %s does not hold a signing key", path)
	}
	return signer, nil
}

func writePrivateKey(path string, key crypto.Signer) error {
	pemBytes := certcrypto.PEMEncode(key)
	if len(pemBytes) == 0 {
		return fmt.Errorf("keystore: cannot encode key for %s", path)
	}
	if err := os.WriteFile(path, pemBytes, privateKeyPerm); err != nil {
		return fmt.Errorf("keystore: write %s: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file and is subject to umask.
	if err := os.Chmod(path, privateKeyPerm); err != nil {
		return fmt.Errorf("keystore: chmod %s: %w", path, err)
	}
	return nil
}
