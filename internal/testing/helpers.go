package testing

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// TestContext creates a standard test context
func TestContext() context.Context {
	return context.Background()
}

// FixedTime is the reference instant used across tests.
var FixedTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// MD5 returns the hex digest workspace code records for content.
func MD5(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// WriteFile writes content at workspace path p on fs with the given
// modification time.
func WriteFile(t *testing.T, fs afero.Fs, p, content string, mtime time.Time) {
	t.Helper()
	if err := afero.WriteFile(fs, "/"+p, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	if !mtime.IsZero() {
		if err := fs.Chtimes("/"+p, mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", p, err)
		}
	}
}

// ReadFile returns the content at workspace path p, failing the test if it
// is missing.
func ReadFile(t *testing.T, fs afero.Fs, p string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, "/"+p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(data)
}

// AssertNoError is a helper to fail the test if error is not nil
func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: %v", msgAndArgs[0], err)
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

// AssertError is a helper to fail the test if error is nil
func AssertError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: expected error but got nil", msgAndArgs[0])
		} else {
			t.Fatal("expected error but got nil")
		}
	}
}

// AssertEqual is a helper to fail the test if two values are not equal.
// Slices, maps and structs are compared deeply.
func AssertEqual(t testing.TB, got, want interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: got %v, want %v", msgAndArgs[0], got, want)
		} else {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
