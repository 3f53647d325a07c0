// Package drive implements the remote collaborator on the Google Drive v3 API.
package drive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/remote"
	"github.com/dl-alexandre/drivews/internal/retry"
	"github.com/dl-alexandre/drivews/internal/utils"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	fileFields = "id,name,mimeType,size,modifiedTime,md5Checksum"
	listFields = googleapi.Field("nextPageToken,files(" + fileFields + ")")
	pageSize   = 1000
)

// Options configures a Drive remote.
type Options struct {
	// RootID is the folder mapped to the remote root ("root" is My Drive).
	RootID      string
	TokenSource oauth2.TokenSource
	Policy      retry.Policy
	Logger      logging.Logger
}

// Remote is a remote.Remote backed by Drive. Paths are resolved to file IDs
// by name, one segment at a time, and cached for the life of the process.
type Remote struct {
	svc    *drive.Service
	opts   Options
	logger logging.Logger

	mu  sync.Mutex
	ids map[string]driveNode
}

type driveNode struct {
	ID    string
	IsDir bool
}

var _ remote.Remote = (*Remote)(nil)

// New wraps an authenticated Drive service.
func New(svc *drive.Service, opts Options) *Remote {
	if opts.RootID == "" {
		opts.RootID = "root"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Remote{
		svc:    svc,
		opts:   opts,
		logger: logger,
		ids:    map[string]driveNode{"": {ID: opts.RootID, IsDir: true}},
	}
}

func (r *Remote) Authenticate(ctx context.Context) (remote.Session, error) {
	var session remote.Session
	if r.opts.TokenSource != nil {
		token, err := r.opts.TokenSource.Token()
		if err != nil {
			return session, wserrors.Auth("authenticate", err)
		}
		session.Token = token.AccessToken
		session.ExpiresAt = token.Expiry
	}

	about, err := retry.Do(ctx, r.opts.Policy, r.logger, "about", func() (*drive.About, error) {
		res, err := r.svc.About.Get().Fields("user(emailAddress)").Context(ctx).Do()
		return res, r.classify("authenticate", "", err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return session, ctx.Err()
		}
		if wserrors.KindOf(err) == wserrors.KindAuth {
			return session, err
		}
		return session, wserrors.Auth("authenticate", err)
	}
	if about.User != nil {
		session.Account = about.User.EmailAddress
	}
	return session, nil
}

func (r *Remote) ListDirectory(ctx context.Context, dir string, recursive bool, maxDepth int) ([]remote.Entry, error) {
	dir, err := remote.CleanPath(dir)
	if err != nil {
		return nil, wserrors.Network("list", dir, false, err)
	}
	node, err := r.resolve(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !node.IsDir {
		return nil, wserrors.Network("list", dir, false, fmt.Errorf("not a folder"))
	}

	limit := maxDepth
	if !recursive {
		limit = 1
	}

	type queued struct {
		id    string
		path  string
		depth int
	}
	var entries []remote.Entry
	queue := []queued{{id: node.ID, path: dir}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := r.listChildren(ctx, current.id, current.path)
		if err != nil {
			return nil, err
		}
		for _, child := range r.usable(children, current.path) {
			childPath := joinPath(current.path, child.Name)
			isDir := child.MimeType == utils.MimeTypeFolder
			r.remember(childPath, driveNode{ID: child.Id, IsDir: isDir})

			entries = append(entries, remote.Entry{
				Path:         childPath,
				Size:         child.Size,
				ModifiedTime: parseTime(child.ModifiedTime),
				IsDir:        isDir,
				ContentHash:  child.Md5Checksum,
			})
			if isDir && (limit == 0 || current.depth+1 < limit) {
				queue = append(queue, queued{id: child.Id, path: childPath, depth: current.depth + 1})
			}
		}
	}

	r.logger.Debug("Listed Drive folder",
		logging.F("dir", dir),
		logging.F("entries", len(entries)),
		logging.F("recursive", recursive),
	)
	return entries, nil
}

func (r *Remote) DownloadFile(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	p, err := remote.CleanPath(remotePath)
	if err != nil || p == "" {
		return nil, wserrors.Network("download", remotePath, false, fmt.Errorf("invalid remote path"))
	}
	node, err := r.resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	if node.IsDir {
		return nil, wserrors.Network("download", p, false, fmt.Errorf("is a folder"))
	}

	resp, err := r.svc.Files.Get(node.ID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, r.classify("download", p, err)
	}
	return resp.Body, nil
}

func (r *Remote) UploadFile(ctx context.Context, remotePath string, content io.Reader) (remote.UploadResult, error) {
	p, err := remote.CleanPath(remotePath)
	if err != nil || p == "" {
		return remote.UploadResult{}, wserrors.Network("upload", remotePath, false, fmt.Errorf("invalid remote path"))
	}

	parent, err := r.mkdirAll(ctx, path.Dir(p))
	if err != nil {
		return remote.UploadResult{}, err
	}

	existing, err := r.resolve(ctx, p)
	if err != nil && !remote.IsNotFound(err) {
		return remote.UploadResult{}, err
	}

	var file *drive.File
	if err == nil {
		if existing.IsDir {
			return remote.UploadResult{}, wserrors.Network("upload", p, false, fmt.Errorf("a folder exists at this path"))
		}
		file, err = r.svc.Files.Update(existing.ID, &drive.File{}).
			Media(content).
			SupportsAllDrives(true).
			Fields(fileFields).
			Context(ctx).
			Do()
	} else {
		file, err = r.svc.Files.Create(&drive.File{Name: path.Base(p), Parents: []string{parent}}).
			Media(content).
			SupportsAllDrives(true).
			Fields(fileFields).
			Context(ctx).
			Do()
	}
	if err != nil {
		if ctx.Err() != nil {
			return remote.UploadResult{}, ctx.Err()
		}
		return remote.UploadResult{}, r.classify("upload", p, err)
	}

	r.remember(p, driveNode{ID: file.Id})
	return remote.UploadResult{
		Size:         file.Size,
		ModifiedTime: parseTime(file.ModifiedTime),
		ContentHash:  file.Md5Checksum,
	}, nil
}

// resolve maps a clean path to its Drive node, walking from the deepest
// cached ancestor.
func (r *Remote) resolve(ctx context.Context, p string) (driveNode, error) {
	if node, ok := r.lookup(p); ok {
		return node, nil
	}

	parentPath := path.Dir(p)
	if parentPath == "." {
		parentPath = ""
	}
	parent, err := r.resolve(ctx, parentPath)
	if err != nil {
		return driveNode{}, err
	}
	if !parent.IsDir {
		return driveNode{}, wserrors.Network("resolve", p, false, fmt.Errorf("parent is not a folder"))
	}

	name := path.Base(p)
	query := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false", parent.ID, escapeQuery(name))
	list, err := retry.Do(ctx, r.opts.Policy, r.logger, "resolve", func() (*drive.FileList, error) {
		res, err := r.svc.Files.List().
			Q(query).
			Fields(listFields).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			PageSize(10).
			Context(ctx).
			Do()
		return res, r.classify("resolve", p, err)
	})
	if err != nil {
		return driveNode{}, err
	}
	if len(list.Files) == 0 {
		return driveNode{}, wserrors.Network("resolve", p, false, remote.ErrNotFound)
	}
	if len(list.Files) > 1 {
		r.logger.Warn("Several Drive items share a path; using the most recently modified",
			logging.F("path", p),
			logging.F("count", len(list.Files)),
		)
	}

	f := newest(list.Files)
	node := driveNode{ID: f.Id, IsDir: f.MimeType == utils.MimeTypeFolder}
	r.remember(p, node)
	return node, nil
}

func (r *Remote) mkdirAll(ctx context.Context, dir string) (string, error) {
	if dir == "." || dir == "" {
		return r.opts.RootID, nil
	}
	node, err := r.resolve(ctx, dir)
	if err == nil {
		if !node.IsDir {
			return "", wserrors.Network("mkdir", dir, false, fmt.Errorf("a file exists at this path"))
		}
		return node.ID, nil
	}
	if !remote.IsNotFound(err) {
		return "", err
	}

	parentID, err := r.mkdirAll(ctx, path.Dir(dir))
	if err != nil {
		return "", err
	}
	folder, err := retry.Do(ctx, r.opts.Policy, r.logger, "mkdir", func() (*drive.File, error) {
		res, err := r.svc.Files.Create(&drive.File{
			Name:     path.Base(dir),
			MimeType: utils.MimeTypeFolder,
			Parents:  []string{parentID},
		}).SupportsAllDrives(true).Fields("id").Context(ctx).Do()
		return res, r.classify("mkdir", dir, err)
	})
	if err != nil {
		return "", err
	}
	r.logger.Debug("Created Drive folder", logging.F("path", dir), logging.F("id", folder.Id))
	r.remember(dir, driveNode{ID: folder.Id, IsDir: true})
	return folder.Id, nil
}

func (r *Remote) listChildren(ctx context.Context, parentID, parentPath string) ([]*drive.File, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", parentID)
	var files []*drive.File
	pageToken := ""
	for {
		list, err := retry.Do(ctx, r.opts.Policy, r.logger, "list", func() (*drive.FileList, error) {
			call := r.svc.Files.List().
				Q(query).
				Fields(listFields).
				SupportsAllDrives(true).
				IncludeItemsFromAllDrives(true).
				OrderBy("name").
				PageSize(pageSize).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			res, err := call.Do()
			return res, r.classify("list", parentPath, err)
		})
		if err != nil {
			return nil, err
		}
		files = append(files, list.Files...)
		if list.NextPageToken == "" {
			return files, nil
		}
		pageToken = list.NextPageToken
	}
}

// usable drops Google-native files, which have no downloadable bytes, and
// collapses items sharing a name in one folder onto the most recently
// modified one, the same item resolve picks.
func (r *Remote) usable(children []*drive.File, parentPath string) []*drive.File {
	byName := make(map[string][]*drive.File, len(children))
	var names []string
	for _, child := range children {
		isDir := child.MimeType == utils.MimeTypeFolder
		if !isDir && strings.HasPrefix(child.MimeType, "application/vnd.google-apps.") {
			r.logger.Debug("Skipping Google-native file",
				logging.F("path", joinPath(parentPath, child.Name)),
				logging.F("mimeType", child.MimeType),
			)
			continue
		}
		if _, seen := byName[child.Name]; !seen {
			names = append(names, child.Name)
		}
		byName[child.Name] = append(byName[child.Name], child)
	}

	out := make([]*drive.File, 0, len(names))
	for _, name := range names {
		dups := byName[name]
		if len(dups) > 1 {
			r.logger.Warn("Several Drive items share a path; listing the most recently modified",
				logging.F("path", joinPath(parentPath, name)),
				logging.F("count", len(dups)),
			)
		}
		out = append(out, newest(dups))
	}
	return out
}

// newest returns the most recently modified file; ties keep the earlier one.
func newest(files []*drive.File) *drive.File {
	best := files[0]
	for _, f := range files[1:] {
		if parseTime(f.ModifiedTime).After(parseTime(best.ModifiedTime)) {
			best = f
		}
	}
	return best
}

func (r *Remote) classify(op, p string, err error) error {
	if err == nil {
		return nil
	}
	return wserrors.ClassifyGoogleAPIError(op, p, err, r.logger)
}

func (r *Remote) lookup(p string) (driveNode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.ids[p]
	return node, ok
}

func (r *Remote) remember(p string, node driveNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[p] = node
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
