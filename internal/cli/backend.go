package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dl-alexandre/drivews/internal/auth"
	"github.com/dl-alexandre/drivews/internal/config"
	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/remote/dirfs"
	"github.com/dl-alexandre/drivews/internal/remote/drive"
	"github.com/dl-alexandre/drivews/internal/retry"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/internal/workspace"
	"github.com/spf13/cobra"
)

func retryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: appConfig.MaxRetries,
		BaseDelay:  appConfig.GetRetryBaseDelay(),
		MaxDelay:   time.Duration(utils.MaxRetryDelayMs) * time.Millisecond,
	}
}

func newAuthManager() (*auth.Manager, error) {
	configDir, err := config.GetConfigDir()
	if err != nil {
		return nil, err
	}
	mgr := auth.NewManagerWithOptions(configDir, auth.ManagerOptions{Logger: logger})

	clientID, clientSecret := appConfig.OAuthClientID, appConfig.OAuthClientSecret
	if clientID == "" {
		if id, secret, ok := auth.GetBundledOAuthClient(); ok {
			clientID, clientSecret = id, secret
		}
	}
	if clientID != "" {
		mgr.SetOAuthConfig(clientID, clientSecret, []string{utils.ScopeDriveFull})
	}
	return mgr, nil
}

// newRemote builds the configured remote and authenticates against it.
// Authentication failures are fatal AuthErrors.
func newRemote(ctx context.Context) (remote.Remote, error) {
	var rem remote.Remote
	switch appConfig.RemoteBackend {
	case config.RemoteBackendDir:
		rem = dirfs.NewOS(appConfig.RemoteDir, dirfs.Options{
			Hashless: appConfig.RemoteHashless,
			Account:  globalFlags.Profile,
			Logger:   logger,
		})
	default:
		mgr, err := newAuthManager()
		if err != nil {
			return nil, wserrors.Auth("configure", err)
		}
		svc, err := mgr.DriveService(ctx, globalFlags.Profile)
		if err != nil {
			return nil, err
		}
		rem = drive.New(svc, drive.Options{
			RootID: appConfig.DriveRootID,
			Policy: retryPolicy(),
			Logger: logger,
		})
	}

	authCtx, cancel := context.WithTimeout(ctx, appConfig.GetRequestTimeout())
	defer cancel()
	session, err := rem.Authenticate(authCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	logger.Debug("Authenticated",
		logging.F("backend", string(appConfig.RemoteBackend)),
		logging.F("account", session.Account),
	)
	return rem, nil
}

type workspaceFunc func(ctx context.Context, ws *workspace.Context, out *OutputWriter) (interface{}, error)

// withWorkspace opens the workspace, runs fn and commits the stores, also
// when fn failed part way: whatever completed is recorded. An authentication
// failure keeps only finished transfers and a corrupt store is left alone.
func withWorkspace(cmd *cobra.Command, command string, needRemote bool, fn workspaceFunc) error {
	ctx := cmd.Context()
	out := newOutput()
	log := logger.WithContext(ctx)

	var rem remote.Remote
	if needRemote {
		var err error
		if rem, err = newRemote(ctx); err != nil {
			return out.fail(command, err)
		}
	}

	ws, err := workspace.Open(ctx, workspace.Options{
		Root:           globalFlags.Root,
		Remote:         rem,
		Workers:        appConfig.Workers,
		Policy:         retryPolicy(),
		Logger:         log,
		Backend:        string(appConfig.RemoteBackend),
		TrackedFolders: appConfig.TrackedFolders,
	})
	if err != nil {
		return out.fail(command, err)
	}

	data, runErr := fn(ctx, ws, out)
	if flushErr := ws.Commit(context.WithoutCancel(ctx), runErr); flushErr != nil {
		log.Error("Failed to save workspace state", logging.F("error", flushErr.Error()))
		if runErr == nil {
			runErr = flushErr
		}
	}
	if closeErr := ws.Close(); closeErr != nil {
		log.Warn("Failed to close workspace store", logging.F("error", closeErr.Error()))
	}

	if data == nil && runErr != nil {
		return out.fail(command, runErr)
	}
	return out.finish(command, data, runErr)
}

// relPaths maps arguments onto workspace paths.
func relPaths(ws *workspace.Context, args []string) ([]string, error) {
	cwd, _ := os.Getwd()
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		p, err := ws.Rel(cwd, arg)
		if err != nil {
			return nil, err
		}
		if p == "" {
			return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidPath,
				fmt.Sprintf("%s is the workspace root; name files or folders inside it", arg)).Build())
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func invalidArgument(msg string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, msg).Build())
}
