package mocks_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	testhelpers "github.com/dl-alexandre/drivews/internal/testing"
	"github.com/dl-alexandre/drivews/internal/testing/mocks"
)

func TestRemote_DefaultTree(t *testing.T) {
	m := mocks.NewRemote()
	m.Put("Documents/notes.md", "hello", testhelpers.FixedTime)
	m.Put("Documents/sub/deep.md", "deep", testhelpers.FixedTime)
	m.Put("Desktop/other.md", "x", testhelpers.FixedTime)

	entries, err := m.ListDirectory(testhelpers.TestContext(), "Documents", true, 0)
	testhelpers.AssertNoError(t, err, "listing")
	testhelpers.AssertEqual(t, len(entries), 3, "entry count")
	testhelpers.AssertEqual(t, entries[0].Path, "Documents/notes.md", "first entry")
	testhelpers.AssertEqual(t, entries[0].ContentHash, testhelpers.MD5("hello"), "hash")
	testhelpers.AssertEqual(t, entries[1].IsDir, true, "sub is a directory")

	shallow, err := m.ListDirectory(testhelpers.TestContext(), "Documents", true, 1)
	testhelpers.AssertNoError(t, err, "shallow listing")
	testhelpers.AssertEqual(t, len(shallow), 2, "shallow entry count")

	rc, err := m.DownloadFile(testhelpers.TestContext(), "Documents/notes.md")
	testhelpers.AssertNoError(t, err, "download")
	data, _ := io.ReadAll(rc)
	testhelpers.AssertEqual(t, string(data), "hello", "content")

	_, err = m.DownloadFile(testhelpers.TestContext(), "missing")
	if wserrors.KindOf(err) != wserrors.KindNetwork || wserrors.IsRetryable(err) {
		t.Errorf("missing download error = %v", err)
	}
}

func TestRemote_UploadAdvancesClock(t *testing.T) {
	m := mocks.NewRemote()
	m.Hashless = true

	first, err := m.UploadFile(testhelpers.TestContext(), "a.md", strings.NewReader("one"))
	testhelpers.AssertNoError(t, err, "first upload")
	second, err := m.UploadFile(testhelpers.TestContext(), "a.md", strings.NewReader("two"))
	testhelpers.AssertNoError(t, err, "second upload")

	if !second.ModifiedTime.After(first.ModifiedTime) {
		t.Error("uploads should move the modification time forward")
	}
	testhelpers.AssertEqual(t, second.ContentHash, "", "hashless upload")
	got, _ := m.Content("a.md")
	testhelpers.AssertEqual(t, got, "two", "stored content")
	testhelpers.AssertEqual(t, m.CountCalls("upload "), 2, "upload calls")
}

func TestRemote_FuncOverride(t *testing.T) {
	m := mocks.NewRemote()
	m.Put("a.md", "x", time.Time{})
	m.DownloadFileFunc = func(ctx context.Context, p string) (io.ReadCloser, error) {
		return nil, errors.New("boom")
	}

	_, err := m.DownloadFile(testhelpers.TestContext(), "a.md")
	testhelpers.AssertError(t, err, "overridden download")
	testhelpers.AssertEqual(t, m.CountCalls("download "), 1, "download calls")
}
