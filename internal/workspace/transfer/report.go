package transfer

import (
	"fmt"
	"sort"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/utils"
)

// Failure is one path that could not be transferred.
type Failure struct {
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
	err       error
}

// Report summarizes a batch. Paths are sorted.
type Report struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// Fail records a failed path.
func (r *Report) Fail(p string, err error) {
	r.Failed = append(r.Failed, Failure{
		Path:      p,
		Kind:      wserrors.KindOf(err).String(),
		Error:     err.Error(),
		Retryable: wserrors.IsRetryable(err),
		err:       err,
	})
}

func (r *Report) sort() {
	sort.Strings(r.Succeeded)
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].Path < r.Failed[j].Path })
}

// Total is the number of paths in the batch.
func (r *Report) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// FailedPaths returns the sorted failed paths.
func (r *Report) FailedPaths() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.Path)
	}
	return out
}

// Err is nil when nothing failed. A fatal failure, or every path failing,
// returns the underlying error; otherwise the batch is a partial success.
func (r *Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	for _, f := range r.Failed {
		if wserrors.IsFatal(f.err) {
			return f.err
		}
	}
	if len(r.Succeeded) == 0 {
		return r.Failed[0].err
	}
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeBatchPartialFailure,
		fmt.Sprintf("%d of %d transfers failed", len(r.Failed), r.Total())).
		WithRetryable(r.allRetryable()).
		WithContext("failedPaths", r.FailedPaths()).
		Build())
}

func (r *Report) allRetryable() bool {
	for _, f := range r.Failed {
		if !f.Retryable {
			return false
		}
	}
	return true
}

// Merge folds other into r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Succeeded = append(r.Succeeded, other.Succeeded...)
	r.Failed = append(r.Failed, other.Failed...)
	r.sort()
}
