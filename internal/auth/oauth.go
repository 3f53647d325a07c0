package auth

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dl-alexandre/drivews/internal/logging"
	"golang.org/x/oauth2"
)

const loginTimeout = 5 * time.Minute

// OAuthFlow handles one PKCE authorization-code exchange
type OAuthFlow struct {
	config       *oauth2.Config
	listener     net.Listener
	redirectURL  string
	state        string
	codeVerifier string
	codeChan     chan string
	errChan      chan error
}

// NewOAuthFlow creates a new OAuth flow handler
func NewOAuthFlow(config *oauth2.Config, listener net.Listener, redirectURL string) (*OAuthFlow, error) {
	if config == nil {
		return nil, fmt.Errorf("OAuth config not set")
	}

	state, err := randomToken(base64.URLEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	verifier, err := randomToken(base64.RawURLEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	cfg := *config
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL not set")
	}

	return &OAuthFlow{
		config:       &cfg,
		listener:     listener,
		redirectURL:  cfg.RedirectURL,
		state:        state,
		codeVerifier: verifier,
		codeChan:     make(chan string, 1),
		errChan:      make(chan error, 1),
	}, nil
}

// GetAuthURL returns the URL the user approves access at
func (f *OAuthFlow) GetAuthURL() string {
	return f.config.AuthCodeURL(
		f.state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", codeChallengeS256(f.codeVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// StartCallbackServer serves the redirect endpoint until ctx ends
func (f *OAuthFlow) StartCallbackServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", f.handleCallback)

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(f.listener); err != http.ErrServerClosed {
			f.sendErr(err)
		}
	}()
	go func() {
		<-ctx.Done()
		server.Close()
	}()
}

func (f *OAuthFlow) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("state") != f.state {
		f.sendErr(fmt.Errorf("invalid state parameter"))
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		f.sendErr(fmt.Errorf("auth error: %s", r.URL.Query().Get("error")))
		http.Error(w, "No code received", http.StatusBadRequest)
		return
	}

	select {
	case f.codeChan <- code:
	default:
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html><body><h1>drivews is signed in.</h1><p>You can close this window.</p></body></html>`)
}

func (f *OAuthFlow) sendErr(err error) {
	select {
	case f.errChan <- err:
	default:
	}
}

// WaitForCode waits for the authorization code
func (f *OAuthFlow) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case code := <-f.codeChan:
		return code, nil
	case err := <-f.errChan:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(timeout):
		return "", fmt.Errorf("authentication timed out")
	}
}

// ExchangeCode exchanges the auth code for tokens
func (f *OAuthFlow) ExchangeCode(ctx context.Context, code string) (*Credentials, error) {
	token, err := f.config.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", f.codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return &Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiryDate:   token.Expiry,
		Scopes:       f.config.Scopes,
		Type:         AuthTypeOAuth,
	}, nil
}

// Close releases the callback listener
func (f *OAuthFlow) Close() {
	if f.listener != nil {
		f.listener.Close()
	}
}

func randomToken(enc *base64.Encoding) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return enc.EncodeToString(b), nil
}

func codeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// LoginOptions controls the interactive login.
type LoginOptions struct {
	NoBrowser   bool
	OpenBrowser func(url string) error
	Prompt      io.Writer
	Input       io.Reader
}

// Login runs the OAuth flow for profile and stores the resulting credentials.
// The loopback redirect is used when a browser is available; otherwise the
// user pastes the code by hand.
func (m *Manager) Login(ctx context.Context, profile string, opts LoginOptions) (*Credentials, error) {
	if m.oauthConfig == nil {
		return nil, fmt.Errorf("OAuth config not set")
	}
	if opts.Prompt == nil {
		opts.Prompt = os.Stderr
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}

	manual := opts.NoBrowser || opts.OpenBrowser == nil || isHeadlessEnv()
	var creds *Credentials
	var err error
	if !manual {
		creds, err = m.loopbackLogin(ctx, opts)
		if err == errBrowserUnavailable {
			manual = true
		} else if err != nil {
			return nil, err
		}
	}
	if manual {
		creds, err = m.manualLogin(ctx, opts)
		if err != nil {
			return nil, err
		}
	}

	if err := m.SaveCredentials(profile, creds); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	m.logger.Info("Logged in", logging.F("profile", profile), logging.F("storage", m.storage.Name()))
	return creds, nil
}

var errBrowserUnavailable = fmt.Errorf("browser unavailable")

func (m *Manager) loopbackLogin(ctx context.Context, opts LoginOptions) (*Credentials, error) {
	flow, err := newLoopbackFlow(m.oauthConfig)
	if err != nil {
		m.logger.Debug("Loopback listener unavailable", logging.F("error", err))
		return nil, errBrowserUnavailable
	}
	defer flow.Close()

	authURL := flow.GetAuthURL()
	fmt.Fprintf(opts.Prompt, "Opening browser for authentication...\nIf the browser doesn't open, visit: %s\n", authURL)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	flow.StartCallbackServer(serveCtx)

	if err := opts.OpenBrowser(authURL); err != nil {
		fmt.Fprintf(opts.Prompt, "Failed to open browser: %v\nSwitching to manual authentication.\n", err)
		return nil, errBrowserUnavailable
	}

	code, err := flow.WaitForCode(ctx, loginTimeout)
	if err != nil {
		return nil, err
	}
	return flow.ExchangeCode(ctx, code)
}

func (m *Manager) manualLogin(ctx context.Context, opts LoginOptions) (*Credentials, error) {
	flow, err := newManualFlow(m.oauthConfig)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(opts.Prompt, "Open this URL in a browser and approve access:\n%s\n", flow.GetAuthURL())
	fmt.Fprintf(opts.Prompt, "After approval, copy the `code` parameter from the redirected address and paste it here: ")

	code, err := bufio.NewReader(opts.Input).ReadString('\n')
	if err != nil && code == "" {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("no authorization code entered")
	}
	return flow.ExchangeCode(ctx, code)
}

func newLoopbackFlow(config *oauth2.Config) (*OAuthFlow, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start local server: %w", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", addr.Port)
	return NewOAuthFlow(config, listener, redirectURL)
}

func newManualFlow(config *oauth2.Config) (*OAuthFlow, error) {
	port := 8765
	if listener, err := net.Listen("tcp", "127.0.0.1:0"); err == nil {
		port = listener.Addr().(*net.TCPAddr).Port
		_ = listener.Close()
	}
	return NewOAuthFlow(config, nil, fmt.Sprintf("http://127.0.0.1:%d/callback", port))
}

func isHeadlessEnv() bool {
	if os.Getenv("DRIVEWS_NO_BROWSER") != "" {
		return true
	}
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return true
	}
	if runtime.GOOS == "linux" && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		return true
	}
	return os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_TTY") != ""
}
