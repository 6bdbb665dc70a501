package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings is the workspace-local settings file. Secret values are stored
// AES-256-GCM encrypted; plaintext never touches disk.
type Settings struct {
	Model   string            `json:"model,omitempty"`
	Secrets map[string]string `json:"secrets,omitempty"` // name -> base64(nonce|ciphertext)
}

// SecretStore reads and writes encrypted settings under <root>/.saturn/.
// The encryption key is user-scoped, generated on first use, and held in a
// 0600 key file next to the settings.
type SecretStore struct {
	mu   sync.Mutex
	dir  string
	aead cipher.AEAD
}

// NewSecretStore opens (or initializes) the secret store for a workspace.
func NewSecretStore(root string) (*SecretStore, error) {
	dir := WorkspaceDir(root)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("config: create settings dir: %w", err)
	}
	key, err := loadOrCreateKey(filepath.Join(dir, "settings.key"))
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("config: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("config: init gcm: %w", err)
	}
	return &SecretStore{dir: dir, aead: aead}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	if raw, err := os.ReadFile(path); err == nil {
		key, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("config: corrupt key file %s", path)
		}
		return key, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("config: generate key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("config: write key file: %w", err)
	}
	return key, nil
}

func (s *SecretStore) settingsPath() string {
	return filepath.Join(s.dir, "settings.json")
}

func (s *SecretStore) load() (Settings, error) {
	var set Settings
	raw, err := os.ReadFile(s.settingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{Secrets: map[string]string{}}, nil
		}
		return set, fmt.Errorf("config: read settings: %w", err)
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		return set, fmt.Errorf("config: parse settings: %w", err)
	}
	if set.Secrets == nil {
		set.Secrets = map[string]string{}
	}
	return set, nil
}

// save writes settings atomically: temp file then rename.
func (s *SecretStore) save(set Settings) error {
	raw, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal settings: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".settings.json.tmp*")
	if err != nil {
		return fmt.Errorf("config: write settings: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: write settings: %w", err)
	}
	if err := os.Rename(tmpName, s.settingsPath()); err != nil {
		return fmt.Errorf("config: write settings: %w", err)
	}
	return nil
}

// SetSecret encrypts and stores a named secret.
func (s *SecretStore) SetSecret(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return err
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("config: generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), nil)
	set.Secrets[name] = base64.StdEncoding.EncodeToString(sealed)
	return s.save(set)
}

// GetSecret decrypts a named secret. Returns "" and false when absent.
func (s *SecretStore) GetSecret(name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return "", false, err
	}
	encoded, ok := set.Secrets[name]
	if !ok {
		return "", false, nil
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(sealed) < s.aead.NonceSize() {
		return "", false, fmt.Errorf("config: corrupt secret %s", name)
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", false, fmt.Errorf("config: decrypt secret %s: %w", name, err)
	}
	return string(plain), true, nil
}

// DeleteSecret removes a named secret.
func (s *SecretStore) DeleteSecret(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return err
	}
	delete(set.Secrets, name)
	return s.save(set)
}
