package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/zalando/go-keyring"
)

// StorageBackend defines the interface for credential storage
type StorageBackend interface {
	Save(profile string, data []byte) error
	Load(profile string) ([]byte, error)
	Delete(profile string) error
	Name() string
}

// KeyringStorage uses the system keyring for credential storage
type KeyringStorage struct {
	serviceName string
}

// NewKeyringStorage creates a keyring storage backend
func NewKeyringStorage(serviceName string) *KeyringStorage {
	return &KeyringStorage{serviceName: serviceName}
}

func (s *KeyringStorage) Save(profile string, data []byte) error {
	return keyring.Set(s.serviceName, profile, string(data))
}

func (s *KeyringStorage) Load(profile string) ([]byte, error) {
	data, err := keyring.Get(s.serviceName, profile)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, fmt.Errorf("credentials not found for profile '%s'", profile)
		}
		return nil, err
	}
	return []byte(data), nil
}

func (s *KeyringStorage) Delete(profile string) error {
	err := keyring.Delete(s.serviceName, profile)
	if err == keyring.ErrNotFound {
		return nil
	}
	return err
}

func (s *KeyringStorage) Name() string {
	return "system-keyring"
}

// EncryptedFileStorage stores credentials in AES-GCM encrypted files
type EncryptedFileStorage struct {
	baseDir string
	key     []byte
}

// NewEncryptedFileStorage creates an encrypted file storage backend
func NewEncryptedFileStorage(baseDir string) (*EncryptedFileStorage, error) {
	key, err := getOrCreateEncryptionKey(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}
	return &EncryptedFileStorage{baseDir: baseDir, key: key}, nil
}

func (s *EncryptedFileStorage) Save(profile string, data []byte) error {
	encrypted, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	credFile := credentialPath(s.baseDir, profile, ".enc")
	if err := os.MkdirAll(filepath.Dir(credFile), 0700); err != nil {
		return err
	}
	return os.WriteFile(credFile, encrypted, 0600)
}

func (s *EncryptedFileStorage) Load(profile string) ([]byte, error) {
	encrypted, err := os.ReadFile(credentialPath(s.baseDir, profile, ".enc"))
	if err != nil {
		return nil, fmt.Errorf("credentials not found for profile '%s'", profile)
	}
	return s.decrypt(encrypted)
}

func (s *EncryptedFileStorage) Delete(profile string) error {
	return removeIfExists(credentialPath(s.baseDir, profile, ".enc"))
}

func (s *EncryptedFileStorage) Name() string {
	return "encrypted-file"
}

func (s *EncryptedFileStorage) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *EncryptedFileStorage) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *EncryptedFileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("invalid ciphertext")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	return plaintext, nil
}

// PlainFileStorage stores credentials in plain JSON files (development only)
type PlainFileStorage struct {
	baseDir string
}

// NewPlainFileStorage creates a plain file storage backend
func NewPlainFileStorage(baseDir string) *PlainFileStorage {
	return &PlainFileStorage{baseDir: baseDir}
}

func (s *PlainFileStorage) Save(profile string, data []byte) error {
	credFile := credentialPath(s.baseDir, profile, ".json")
	if err := os.MkdirAll(filepath.Dir(credFile), 0700); err != nil {
		return err
	}
	return os.WriteFile(credFile, data, 0600)
}

func (s *PlainFileStorage) Load(profile string) ([]byte, error) {
	data, err := os.ReadFile(credentialPath(s.baseDir, profile, ".json"))
	if err != nil {
		return nil, fmt.Errorf("credentials not found for profile '%s'", profile)
	}
	return data, nil
}

func (s *PlainFileStorage) Delete(profile string) error {
	return removeIfExists(credentialPath(s.baseDir, profile, ".json"))
}

func (s *PlainFileStorage) Name() string {
	return "plain-file"
}

func credentialPath(baseDir, profile, ext string) string {
	return filepath.Join(baseDir, "credentials", profile+ext)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func getOrCreateEncryptionKey(baseDir string) ([]byte, error) {
	keyFile := filepath.Join(baseDir, ".keyfile")

	if data, err := os.ReadFile(keyFile); err == nil {
		key, err := base64.StdEncoding.DecodeString(string(data))
		if err == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(keyFile, []byte(encoded), 0600); err != nil {
		return nil, err
	}
	return key, nil
}

// ListProfiles lists all stored credential profiles
func (m *Manager) ListProfiles() ([]string, error) {
	profiles := []string{}

	if m.useKeyring {
		// the keyring cannot be enumerated, so profiles are tracked on disk
		data, err := os.ReadFile(m.profilesFile())
		if err != nil {
			if os.IsNotExist(err) {
				return profiles, nil
			}
			return nil, err
		}
		if err := json.Unmarshal(data, &profiles); err != nil {
			return nil, err
		}
		return profiles, nil
	}

	entries, err := os.ReadDir(filepath.Join(m.configDir, "credentials"))
	if err != nil {
		if os.IsNotExist(err) {
			return profiles, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ext := filepath.Ext(name); ext == ".json" || ext == ".enc" {
			profiles = append(profiles, name[:len(name)-len(ext)])
		}
	}
	sort.Strings(profiles)
	return profiles, nil
}

func (m *Manager) profilesFile() string {
	return filepath.Join(m.configDir, "profiles.json")
}

func (m *Manager) writeProfiles(profiles []string) error {
	data, err := json.Marshal(profiles)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(m.profilesFile(), data, 0600)
}

func (m *Manager) addProfileToList(profile string) error {
	if !m.useKeyring {
		return nil
	}
	profiles, err := m.ListProfiles()
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if p == profile {
			return nil
		}
	}
	profiles = append(profiles, profile)
	sort.Strings(profiles)
	return m.writeProfiles(profiles)
}

func (m *Manager) removeProfileFromList(profile string) error {
	if !m.useKeyring {
		return nil
	}
	profiles, err := m.ListProfiles()
	if err != nil {
		return err
	}
	updated := profiles[:0]
	for _, p := range profiles {
		if p != profile {
			updated = append(updated, p)
		}
	}
	return m.writeProfiles(updated)
}
