package cli

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/dl-alexandre/drivews/internal/auth"
	"github.com/dl-alexandre/drivews/internal/config"
	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the remote",
	Long:  "Run the OAuth flow for the current profile and store the credentials in the system keyring, or an encrypted file when no keyring is available.",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var (
	loginNoBrowser    bool
	loginClientID     string
	loginClientSecret string
)

func init() {
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Paste the authorization code instead of using a browser redirect")
	loginCmd.Flags().StringVar(&loginClientID, "client-id", "", "OAuth client ID (default from config)")
	loginCmd.Flags().StringVar(&loginClientSecret, "client-secret", "", "OAuth client secret (default from config)")

	rootCmd.AddCommand(loginCmd, logoutCmd)
}

type loginResult struct {
	Profile string `json:"profile"`
	Backend string `json:"backend"`
	Account string `json:"account,omitempty"`
	Storage string `json:"storage,omitempty"`
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := newOutput()

	if appConfig.RemoteBackend == config.RemoteBackendDir {
		rem, err := newRemote(ctx)
		if err != nil {
			return out.fail("login", err)
		}
		session, err := rem.Authenticate(ctx)
		if err != nil {
			return out.fail("login", err)
		}
		return out.WriteSuccess("login", loginResult{Profile: globalFlags.Profile, Backend: string(appConfig.RemoteBackend), Account: session.Account})
	}

	mgr, err := newAuthManager()
	if err != nil {
		return out.fail("login", err)
	}
	if warning := mgr.GetStorageWarning(); warning != "" {
		out.AddWarning("CREDENTIAL_STORAGE", warning, "warning")
	}
	if loginClientID != "" {
		mgr.SetOAuthConfig(loginClientID, loginClientSecret, []string{utils.ScopeDriveFull})
	}
	if mgr.GetOAuthConfig() == nil {
		return out.fail("login", invalidArgument("OAuth client ID required: pass --client-id or run 'drivews config set oauthClientId <id>'"))
	}

	if _, err := mgr.Login(ctx, globalFlags.Profile, auth.LoginOptions{
		NoBrowser:   loginNoBrowser,
		OpenBrowser: openBrowser,
	}); err != nil {
		if ctx.Err() != nil {
			return out.fail("login", ctx.Err())
		}
		return out.fail("login", wserrors.Auth("login", err))
	}

	result := loginResult{Profile: globalFlags.Profile, Backend: string(appConfig.RemoteBackend), Storage: mgr.GetStorageBackend()}
	if rem, err := newRemote(ctx); err == nil {
		if session, err := rem.Authenticate(ctx); err == nil {
			result.Account = session.Account
		}
	}
	out.Log("Logged in as profile %q.", globalFlags.Profile)
	return out.WriteSuccess("login", result)
}

func runLogout(cmd *cobra.Command, args []string) error {
	out := newOutput()
	mgr, err := newAuthManager()
	if err != nil {
		return out.fail("logout", err)
	}
	if err := mgr.DeleteCredentials(globalFlags.Profile); err != nil {
		return out.fail("logout", wserrors.LocalIO("logout", globalFlags.Profile, err))
	}
	out.Log("Logged out of profile %q.", globalFlags.Profile)
	return out.WriteSuccess("logout", map[string]string{"profile": globalFlags.Profile})
}

// authStatus describes the stored credentials without contacting the
// remote.
func authStatus() string {
	if appConfig.RemoteBackend == config.RemoteBackendDir {
		return "not required (dir backend)"
	}
	mgr, err := newAuthManager()
	if err != nil {
		return "unknown"
	}
	creds, err := mgr.LoadCredentials(globalFlags.Profile)
	if err != nil {
		return "not logged in"
	}
	if mgr.NeedsRefresh(creds) {
		if creds.RefreshToken == "" {
			return "expired"
		}
		return fmt.Sprintf("logged in (%s, token refresh due)", mgr.GetStorageBackend())
	}
	return fmt.Sprintf("logged in (%s)", mgr.GetStorageBackend())
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}

