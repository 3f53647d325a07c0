package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/retry"
	"github.com/dl-alexandre/drivews/internal/workspace/scanner"
	"github.com/dl-alexandre/drivews/internal/workspace/snapshot"
)

var errNotRegular = errors.New("not a regular file")

type pushed struct {
	result remote.UploadResult
	local  scanner.LocalFile
}

func (s *Scheduler) upload(ctx context.Context, p string) Result {
	res := Result{Path: p}
	out, err := retry.Do(ctx, s.opts.Policy, s.opts.Logger, "upload "+p, func() (pushed, error) {
		return s.push(ctx, p)
	})
	if err != nil {
		res.Err = err
		return res
	}
	res.Local = out.local
	res.Remote = snapshot.FromUpload(p, out.result)
	return res
}

// push uploads the file as it is on disk now. The local hash is taken from
// the bytes actually sent.
func (s *Scheduler) push(ctx context.Context, p string) (pushed, error) {
	info, err := s.fs.Stat("/" + p)
	if err != nil {
		return pushed{}, wserrors.LocalIO("upload", p, err)
	}
	if !info.Mode().IsRegular() {
		return pushed{}, wserrors.LocalIO("upload", p, errNotRegular)
	}
	f, err := s.fs.Open("/" + p)
	if err != nil {
		return pushed{}, wserrors.LocalIO("upload", p, err)
	}
	defer f.Close()

	h := md5.New()
	counter := &countingReader{r: io.TeeReader(f, h)}
	result, err := s.remote.UploadFile(ctx, p, counter)
	if err != nil {
		return pushed{}, err
	}

	local := scanner.LocalFile{
		Path:    p,
		Size:    counter.n,
		ModTime: info.ModTime().UTC(),
		Hash:    hex.EncodeToString(h.Sum(nil)),
	}
	if result.Size == 0 && counter.n > 0 {
		result.Size = counter.n
	}
	return pushed{result: result, local: local}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
