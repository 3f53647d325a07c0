package cli

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/workspace"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
	"github.com/dl-alexandre/drivews/internal/workspace/transfer"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list [remote-folder]",
	Aliases: []string{"ls"},
	Short:   "List a remote folder",
	Long:    "List a remote folder without touching the workspace. The folder defaults to the remote root.",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runList,
}

var downloadCmd = &cobra.Command{
	Use:   "download <remote-path>...",
	Short: "Download individual remote files",
	Long: `Download remote files into the workspace and record them as unmodified.
Paths that are opened, conflicted or locally edited are refused.

With --to, files are written below the given directory instead and the
workspace is left alone.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDownload,
}

var (
	listRecursive bool
	listDepth     int
	downloadTo    string
)

func init() {
	listCmd.Flags().BoolVarP(&listRecursive, "recursive", "r", false, "List subfolders too")
	listCmd.Flags().IntVarP(&listDepth, "depth", "d", 0, "Depth limit for --recursive (0 = unlimited)")
	downloadCmd.Flags().StringVar(&downloadTo, "to", "", "Write into this directory instead of the workspace")
	downloadCmd.Flags().IntVarP(&wsWorkers, "workers", "w", 0, "Concurrent downloads (default from config)")

	rootCmd.AddCommand(listCmd, downloadCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := newOutput()

	dir := ""
	if len(args) == 1 {
		cleaned, err := remote.CleanPath(args[0])
		if err != nil {
			return out.fail("list", invalidArgument(err.Error()))
		}
		dir = cleaned
	}
	if listDepth < 0 {
		return out.fail("list", invalidArgument("--depth must not be negative"))
	}

	rem, err := newRemote(ctx)
	if err != nil {
		return out.fail("list", err)
	}
	entries, err := rem.ListDirectory(ctx, dir, listRecursive, listDepth)
	if err != nil {
		return out.fail("list", err)
	}
	return out.WriteSuccess("list", listView(entries))
}

func runDownload(cmd *cobra.Command, args []string) error {
	if downloadTo != "" {
		return runExport(cmd, args)
	}
	return withWorkspace(cmd, "download", true, func(ctx context.Context, ws *workspace.Context, out *OutputWriter) (interface{}, error) {
		paths, err := relPaths(ws, args)
		if err != nil {
			return nil, err
		}
		report, err := ws.Fetch(ctx, paths, wsWorkers)
		return reportView{report}, err
	})
}

// runExport downloads into a directory outside the workspace, keeping each
// file's remote path below it.
func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := newOutput()

	dest, err := filepath.Abs(downloadTo)
	if err != nil {
		return out.fail("download", invalidArgument(err.Error()))
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return out.fail("download", wserrors.LocalIO("download", dest, err))
	}

	rem, err := newRemote(ctx)
	if err != nil {
		return out.fail("download", err)
	}

	report := &transfer.Report{}
	var entries []snapshot.RemoteEntry
	listings := make(map[string][]remote.Entry)
	for _, arg := range args {
		p, err := remote.CleanPath(arg)
		if err != nil || p == "" {
			return out.fail("download", invalidArgument(fmt.Sprintf("invalid remote path: %s", arg)))
		}
		dir := path.Dir(p)
		if dir == "." {
			dir = ""
		}
		listing, ok := listings[dir]
		if !ok {
			if listing, err = rem.ListDirectory(ctx, dir, false, 1); err != nil && !remote.IsNotFound(err) {
				if wserrors.IsFatal(err) {
					return out.fail("download", err)
				}
				report.Fail(p, err)
				continue
			}
			listings[dir] = listing
		}
		e, found := findEntry(listing, p)
		if !found {
			report.Fail(p, wserrors.Network("download", p, false, remote.ErrNotFound))
			continue
		}
		entries = append(entries, snapshot.FromListing(e))
	}

	sched := transfer.New(rem, afero.NewBasePathFs(afero.NewOsFs(), dest), transfer.Options{
		Workers: workers(),
		Policy:  retryPolicy(),
		Logger:  logger.WithContext(ctx),
	})
	report.Merge(sched.Download(ctx, entries, nil))
	return out.finish("download", reportView{report}, report.Err())
}

func findEntry(listing []remote.Entry, p string) (remote.Entry, bool) {
	for _, e := range listing {
		if e.Path == p && !e.IsDir {
			return e, true
		}
	}
	return remote.Entry{}, false
}

func workers() int {
	if wsWorkers > 0 {
		return wsWorkers
	}
	return appConfig.Workers
}
