package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/pkg/version"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	serviceName        = "drivews"
	tokenRefreshBuffer = 5 * time.Minute
)

// BundledOAuthClientID and BundledOAuthClientSecret can be set at build time
// via -ldflags. If unset, login requires oauthClientId in the config.
var (
	BundledOAuthClientID     string
	BundledOAuthClientSecret string
)

// GetBundledOAuthClient returns the bundled OAuth client credentials.
func GetBundledOAuthClient() (string, string, bool) {
	if BundledOAuthClientID == "" {
		return "", "", false
	}
	return BundledOAuthClientID, BundledOAuthClientSecret, true
}

// Manager handles authentication operations
type Manager struct {
	configDir      string
	useKeyring     bool
	storage        StorageBackend
	oauthConfig    *oauth2.Config
	storageWarning string
	logger         logging.Logger
}

// ManagerOptions configures the auth manager
type ManagerOptions struct {
	ForceEncryptedFile bool // skip the system keyring
	ForcePlainFile     bool // insecure, development only
	Logger             logging.Logger
}

// NewManager creates a new auth manager
func NewManager(configDir string) *Manager {
	return NewManagerWithOptions(configDir, ManagerOptions{})
}

// NewManagerWithOptions creates a new auth manager with specific options
func NewManagerWithOptions(configDir string, opts ManagerOptions) *Manager {
	mgr := &Manager{
		configDir: configDir,
		logger:    opts.Logger,
	}
	if mgr.logger == nil {
		mgr.logger = logging.NewNoOpLogger()
	}

	switch {
	case opts.ForcePlainFile:
		mgr.storage = NewPlainFileStorage(configDir)
		mgr.storageWarning = "WARNING: Using unencrypted file storage. Credentials are stored in plain text."
	case opts.ForceEncryptedFile || !checkKeyringAvailable():
		storage, err := NewEncryptedFileStorage(configDir)
		if err != nil {
			mgr.storage = NewPlainFileStorage(configDir)
			mgr.storageWarning = fmt.Sprintf("WARNING: Encryption setup failed (%v). Using plain file storage.", err)
		} else {
			mgr.storage = storage
			if !opts.ForceEncryptedFile {
				mgr.storageWarning = "INFO: System keyring not available. Using encrypted file storage."
			}
		}
	default:
		mgr.storage = NewKeyringStorage(serviceName)
		mgr.useKeyring = true
	}

	return mgr
}

func checkKeyringAvailable() bool {
	testKey := serviceName + "-probe"
	if err := keyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, testKey)
	return true
}

// SetOAuthConfig sets the OAuth2 configuration
func (m *Manager) SetOAuthConfig(clientID, clientSecret string, scopes []string) {
	m.oauthConfig = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}
}

// GetOAuthConfig returns the current OAuth2 configuration
func (m *Manager) GetOAuthConfig() *oauth2.Config {
	return m.oauthConfig
}

// LoadCredentials loads stored credentials for a profile
func (m *Manager) LoadCredentials(profile string) (*Credentials, error) {
	data, err := m.storage.Load(profile)
	if err != nil {
		return nil, err
	}

	var stored StoredCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	expiryDate, err := time.Parse(time.RFC3339, stored.ExpiryDate)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry date: %w", err)
	}

	return &Credentials{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiryDate:   expiryDate,
		Scopes:       stored.Scopes,
		Type:         stored.Type,
	}, nil
}

// SaveCredentials saves credentials for a profile
func (m *Manager) SaveCredentials(profile string, creds *Credentials) error {
	data, err := json.Marshal(StoredCredentials{
		Profile:      profile,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiryDate:   creds.ExpiryDate.Format(time.RFC3339),
		Scopes:       creds.Scopes,
		Type:         creds.Type,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := m.storage.Save(profile, data); err != nil {
		return err
	}

	if err := m.addProfileToList(profile); err != nil {
		m.logger.Warn("Failed to update profile list", logging.F("profile", profile), logging.F("error", err))
	}
	return nil
}

// DeleteCredentials removes credentials for a profile
func (m *Manager) DeleteCredentials(profile string) error {
	if err := m.storage.Delete(profile); err != nil {
		return err
	}
	if err := m.removeProfileFromList(profile); err != nil {
		m.logger.Warn("Failed to update profile list", logging.F("profile", profile), logging.F("error", err))
	}
	return nil
}

// NeedsRefresh checks if credentials need refreshing
func (m *Manager) NeedsRefresh(creds *Credentials) bool {
	return time.Now().Add(tokenRefreshBuffer).After(creds.ExpiryDate)
}

// RefreshCredentials refreshes OAuth2 tokens
func (m *Manager) RefreshCredentials(ctx context.Context, creds *Credentials) (*Credentials, error) {
	if creds.Type != AuthTypeOAuth {
		return nil, fmt.Errorf("refresh only supported for OAuth credentials")
	}
	if m.oauthConfig == nil {
		return nil, fmt.Errorf("OAuth config not set")
	}
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token stored")
	}

	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiryDate,
	}
	newToken, err := m.oauthConfig.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	refresh := newToken.RefreshToken
	if refresh == "" {
		refresh = creds.RefreshToken
	}
	return &Credentials{
		AccessToken:  newToken.AccessToken,
		RefreshToken: refresh,
		ExpiryDate:   newToken.Expiry,
		Scopes:       creds.Scopes,
		Type:         AuthTypeOAuth,
	}, nil
}

// GetValidCredentials returns valid credentials, refreshing if necessary.
// Every failure is an auth error.
func (m *Manager) GetValidCredentials(ctx context.Context, profile string) (*Credentials, error) {
	creds, err := m.LoadCredentials(profile)
	if err != nil {
		return nil, wserrors.Auth("load credentials", fmt.Errorf("no credentials for profile %q: %w", profile, err))
	}

	if !m.NeedsRefresh(creds) {
		return creds, nil
	}
	if creds.Type != AuthTypeOAuth {
		if time.Now().After(creds.ExpiryDate) {
			return nil, wserrors.Auth("load credentials", fmt.Errorf("access token for profile %q expired", profile))
		}
		return creds, nil
	}

	m.logger.Debug("Refreshing access token", logging.F("profile", profile))
	newCreds, err := m.RefreshCredentials(ctx, creds)
	if err != nil {
		return nil, wserrors.Auth("refresh credentials", err)
	}
	if err := m.SaveCredentials(profile, newCreds); err != nil {
		return nil, fmt.Errorf("failed to save refreshed credentials: %w", err)
	}
	return newCreds, nil
}

// GetHTTPClient returns an authenticated HTTP client
func (m *Manager) GetHTTPClient(ctx context.Context, creds *Credentials) *http.Client {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiryDate,
	}
	if m.oauthConfig == nil || creds.Type != AuthTypeOAuth {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	}
	return m.oauthConfig.Client(ctx, token)
}

// DriveService returns a Drive client for profile.
func (m *Manager) DriveService(ctx context.Context, profile string) (*drive.Service, error) {
	creds, err := m.GetValidCredentials(ctx, profile)
	if err != nil {
		return nil, err
	}
	if err := m.ValidateScopes(creds, []string{utils.ScopeDriveFull}); err != nil {
		return nil, err
	}
	svc, err := drive.NewService(ctx,
		option.WithHTTPClient(m.GetHTTPClient(ctx, creds)),
		option.WithUserAgent(version.UserAgent()),
	)
	if err != nil {
		return nil, wserrors.Auth("create drive service", err)
	}
	return svc, nil
}

// ValidateScopes checks if credentials have required scopes
func (m *Manager) ValidateScopes(creds *Credentials, required []string) error {
	scopeSet := make(map[string]bool)
	for _, s := range creds.Scopes {
		scopeSet[s] = true
	}
	for _, req := range required {
		if !scopeSet[req] {
			return wserrors.Auth("validate scopes", fmt.Errorf("missing required scope %s", req))
		}
	}
	return nil
}

// UseKeyring returns whether the manager is using the system keyring
func (m *Manager) UseKeyring() bool {
	return m.useKeyring
}

// ConfigDir returns the configuration directory
func (m *Manager) ConfigDir() string {
	return m.configDir
}

// GetStorageBackend returns the name of the storage backend being used
func (m *Manager) GetStorageBackend() string {
	return m.storage.Name()
}

// GetStorageWarning returns any warning message about the storage backend
func (m *Manager) GetStorageWarning() string {
	return m.storageWarning
}
