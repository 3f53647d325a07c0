// Package transfer moves file content between the workspace and the remote
// with bounded worker pools. Workers never touch the stores; results are
// handed back to the caller's goroutine.
package transfer

import (
	"context"
	"sync"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/retry"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/internal/workspace/scanner"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
	"github.com/spf13/afero"
)

type Options struct {
	// Workers bounds the download pool. Uploads use at most
	// utils.MaxUploadWorkers of them.
	Workers int
	Policy  retry.Policy
	Logger  logging.Logger
}

// Result is the outcome of one path. On success Remote is what the remote
// now holds and Local is the matching file on disk.
type Result struct {
	Path   string
	Err    error
	Remote snapshot.RemoteEntry
	Local  scanner.LocalFile
}

type Scheduler struct {
	remote remote.Remote
	fs     afero.Fs
	opts   Options
}

// New returns a scheduler transferring between r and the workspace on fs.
func New(r remote.Remote, fs afero.Fs, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = utils.DefaultWorkers
	}
	if opts.Policy == (retry.Policy{}) {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	return &Scheduler{remote: r, fs: fs, opts: opts}
}

// Download fetches every entry. onResult runs on the calling goroutine once
// per path as results arrive; it is the only place stores may be updated.
func (s *Scheduler) Download(ctx context.Context, entries []snapshot.RemoteEntry, onResult func(Result)) *Report {
	s.opts.Logger.Info("Starting downloads", logging.F("count", len(entries)), logging.F("workers", s.opts.Workers))
	return s.collect(runPool(ctx, entries, s.opts.Workers, func(ctx context.Context, e snapshot.RemoteEntry) Result {
		return s.download(ctx, e)
	}, func(e snapshot.RemoteEntry) string { return e.Path }), onResult)
}

// Upload pushes every path. onResult behaves as for Download.
func (s *Scheduler) Upload(ctx context.Context, paths []string, onResult func(Result)) *Report {
	workers := s.opts.Workers
	if workers > utils.MaxUploadWorkers {
		workers = utils.MaxUploadWorkers
	}
	s.opts.Logger.Info("Starting uploads", logging.F("count", len(paths)), logging.F("workers", workers))
	return s.collect(runPool(ctx, paths, workers, s.upload, func(p string) string { return p }), onResult)
}

func (s *Scheduler) collect(results <-chan Result, onResult func(Result)) *Report {
	report := &Report{}
	for res := range results {
		if res.Err != nil {
			s.opts.Logger.Warn("Transfer failed", logging.F("path", res.Path), logging.F("error", res.Err.Error()))
			report.Fail(res.Path, res.Err)
		} else {
			report.Succeeded = append(report.Succeeded, res.Path)
		}
		if onResult != nil {
			onResult(res)
		}
	}
	report.sort()
	s.opts.Logger.Info("Transfers finished",
		logging.F("succeeded", len(report.Succeeded)),
		logging.F("failed", len(report.Failed)),
	)
	return report
}

// runPool runs fn over jobs with a fixed number of workers and streams the
// results. Every job yields exactly one result: once ctx is done, or a
// worker hits a fatal error, the remaining jobs report the cancellation
// without running.
func runPool[J any](ctx context.Context, jobs []J, workers int, fn func(context.Context, J) Result, key func(J) string) <-chan Result {
	results := make(chan Result, len(jobs))
	if len(jobs) == 0 {
		close(results)
		return results
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	ctx, cancel := context.WithCancelCause(ctx)

	queue := make(chan J)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				if ctx.Err() != nil {
					results <- Result{Path: key(job), Err: context.Cause(ctx)}
					continue
				}
				res := fn(ctx, job)
				if res.Err != nil && wserrors.IsFatal(res.Err) {
					cancel(res.Err)
				}
				results <- res
			}
		}()
	}

	go func() {
		for _, job := range jobs {
			queue <- job
		}
		close(queue)
		wg.Wait()
		cancel(nil)
		close(results)
	}()
	return results
}
