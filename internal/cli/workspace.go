package cli

import (
	"context"
	"errors"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/workspace"
	"github.com/dl-alexandre/drivews/internal/workspace/index"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Classify local files against the last known remote state",
	Long: `Walk the workspace and classify every file as unmodified, locally
modified, remotely updated, conflicted, new-local or new-remote. Detected
edits are opened and conflicts recorded; nothing is transferred.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

var addCmd = &cobra.Command{
	Use:     "add <path>...",
	Aliases: []string{"checkout", "open"},
	Short:   "Open files for submit",
	Long:    "Open files explicitly. Opened files are submitted even when their content did not change. A folder opens every file below it.",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runAdd,
}

var revertCmd = &cobra.Command{
	Use:   "revert [path]...",
	Short: "Unopen files",
	Long:  "Return opened files to the unopened state. Local file changes are NOT reverted.",
	RunE:  runRevert,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download remote changes",
	Long: `Refresh the remote listing of a folder and download every file that
changed remotely. Local edits are never overwritten: they are opened, or
conflicted when the remote changed too.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var submitCmd = &cobra.Command{
	Use:   "submit [path]...",
	Short: "Upload opened files",
	Long: `Upload local edits. Without arguments the opened files are listed.
Conflicted files and files changed remotely since the last sync are refused.`,
	RunE: runSubmit,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Resolve a conflicted file",
	Long: `Settle a conflict. Strategies:
  local   upload the local copy over the remote (auto is an alias)
  remote  download the remote copy; the local one is kept as <file>.backup
  defer   leave the file conflicted`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show workspace status",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard workspace state",
	Long:  "Delete the workspace state database. Local files are kept; the next sync rebuilds the state.",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var (
	wsFolder    string
	wsMaxDepth  int
	wsWorkers   int
	wsExclude   []string
	wsNoExclude bool
	wsRefresh   bool
	wsAll       bool
	wsStrategy  string
)

func init() {
	addScopeFlags(reconcileCmd)
	reconcileCmd.Flags().BoolVar(&wsRefresh, "refresh", false, "List the remote folder first")

	addScopeFlags(syncCmd)
	syncCmd.Flags().IntVarP(&wsWorkers, "workers", "w", 0, "Parallel downloads (default from config)")

	revertCmd.Flags().BoolVarP(&wsAll, "all", "a", false, "Revert every opened file")

	submitCmd.Flags().BoolVarP(&wsAll, "all", "a", false, "Submit every opened file, after picking up unopened edits")
	submitCmd.Flags().StringVarP(&wsFolder, "folder", "f", "", "Limit --all to a folder")

	resolveCmd.Flags().StringVarP(&wsStrategy, "strategy", "s", "auto", "Resolution strategy (local, remote, defer, auto)")

	rootCmd.AddCommand(reconcileCmd, addCmd, revertCmd, syncCmd, submitCmd, resolveCmd, infoCmd, resetCmd)
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&wsFolder, "folder", "f", "", "Folder to cover (default: tracked folders)")
	cmd.Flags().IntVarP(&wsMaxDepth, "depth", "d", -1, "Maximum depth below the folder, 0 for unlimited (default from config)")
	cmd.Flags().StringSliceVar(&wsExclude, "exclude", nil, "Additional exclude patterns")
	cmd.Flags().BoolVar(&wsNoExclude, "no-exclude", false, "Disable the default excludes")
}

func scopeOptions(folder string) workspace.ScopeOptions {
	depth := wsMaxDepth
	if depth < 0 {
		depth = appConfig.MaxDepth
	}
	return workspace.ScopeOptions{
		Folder:            folder,
		MaxDepth:          depth,
		Exclude:           append(append([]string(nil), appConfig.ExcludePatterns...), wsExclude...),
		NoDefaultExcludes: wsNoExclude,
	}
}

// folders returns the folders a pass covers: the --folder flag or every
// tracked folder.
func folders(ws *workspace.Context) []string {
	if wsFolder != "" {
		return []string{wsFolder}
	}
	if tracked := ws.TrackedFolders(); len(tracked) > 0 {
		return tracked
	}
	return appConfig.TrackedFolders
}

func runReconcile(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, "reconcile", wsRefresh, func(ctx context.Context, ws *workspace.Context, out *OutputWriter) (interface{}, error) {
		view := &reconcileView{}
		for _, folder := range folders(ws) {
			res, err := ws.Reconcile(ctx, workspace.ReconcileOptions{ScopeOptions: scopeOptions(folder), Refresh: wsRefresh})
			if err != nil {
				return nil, err
			}
			view.add(res)
		}
		return view, nil
	})
}

func runAdd(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, "add", false, func(ctx context.Context, ws *workspace.Context, out *OutputWriter) (interface{}, error) {
		paths, err := relPaths(ws, args)
		if err != nil {
			return nil, err
		}
		entries, err := ws.Add(ctx, paths)
		return entriesView(entries), err
	})
}

func runRevert(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !wsAll {
		return newOutput().fail("revert", invalidArgument("name files to revert or use --all"))
	}
	return withWorkspace(cmd, "revert", false, func(ctx context.Context, ws *workspace.Context, out *OutputWriter) (interface{}, error) {
		paths, err := relPaths(ws, args)
		if err != nil {
			return nil, err
		}
		entries, err := ws.Revert(ctx, paths, wsAll)
		return entriesView(entries), err
	})
}

func runSync(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, "sync", true, func(ctx context.Context, ws *workspace.Context, out *OutputWriter) (interface{}, error) {
		view := &syncView{Reports: []*workspace.SyncReport{}}
		var errs []error
		for _, folder := range folders(ws) {
			report, err := ws.Sync(ctx, workspace.SyncOptions{ScopeOptions: scopeOptions(folder), Workers: wsWorkers})
			if report != nil {
				view.Reports = append(view.Reports, report)
			}
			if err != nil {
				errs = append(errs, err)
				if report == nil || wserrors.IsFatal(err) || ctx.Err() != nil {
					break
				}
			}
		}
		for _, r := range view.Reports {
			for _, p := range r.Conflicted {
				out.AddWarning("CONFLICT", p+" is conflicted; run 'drivews resolve'", "warning")
			}
		}
		if len(view.Reports) == 0 {
			return nil, errors.Join(errs...)
		}
		return view, errors.Join(errs...)
	})
}

func runSubmit(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, "submit", len(args) > 0 || wsAll, func(ctx context.Context, ws *workspace.Context, out *OutputWriter) (interface{}, error) {
		if len(args) == 0 && !wsAll {
			return openedView(ws.Index().InState(index.Opened)), nil
		}
		paths, err := relPaths(ws, args)
		if err != nil {
			return nil, err
		}
		report, err := ws.Submit(ctx, workspace.SubmitOptions{Paths: paths, All: wsAll, Folder: wsFolder})
		if report == nil {
			return nil, err
		}
		return (*submitView)(report), err
	})
}

func runResolve(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, "resolve", wsStrategy != "defer", func(ctx context.Context, ws *workspace.Context, out *OutputWriter) (interface{}, error) {
		paths, err := relPaths(ws, args)
		if err != nil {
			return nil, err
		}
		entry, err := ws.Resolve(ctx, paths[0], wsStrategy)
		if entry.Path == "" {
			return nil, err
		}
		return entriesView{entry}, err
	})
}

func runInfo(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, "info", false, func(ctx context.Context, ws *workspace.Context, out *OutputWriter) (interface{}, error) {
		return &infoView{Info: ws.Info(), Profile: globalFlags.Profile, Auth: authStatus()}, nil
	})
}

func runReset(cmd *cobra.Command, args []string) error {
	out := newOutput()
	if err := workspace.Reset(globalFlags.Root); err != nil {
		return out.fail("reset", wserrors.LocalIO("reset", globalFlags.Root, err))
	}
	out.Log("Workspace state removed; run 'drivews sync' to rebuild it.")
	return out.WriteSuccess("reset", map[string]string{"root": globalFlags.Root})
}
