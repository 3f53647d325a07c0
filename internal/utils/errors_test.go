package utils

import "testing"

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeAuthRequired, ExitAuthRequired},
		{ErrCodeNetworkError, ExitNetworkError},
		{ErrCodeLocalIO, ExitLocalIO},
		{ErrCodeConflict, ExitConflict},
		{ErrCodeStoreCorruption, ExitStoreCorruption},
		{ErrCodeBatchPartialFailure, ExitBatchPartialFailure},
		{"SOMETHING_ELSE", ExitUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := GetExitCode(tt.code); got != tt.want {
				t.Errorf("GetExitCode(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestCLIErrorBuilder(t *testing.T) {
	cliErr := NewCLIError(ErrCodeNetworkError, "download failed").
		WithPath("Documents/a.txt").
		WithRetryable(true).
		WithHTTPStatus(503).
		WithContext("attempts", 3).
		Build()

	if cliErr.Code != ErrCodeNetworkError || cliErr.Path != "Documents/a.txt" {
		t.Errorf("unexpected error: %+v", cliErr)
	}
	if !cliErr.Retryable || cliErr.HTTPStatus != 503 {
		t.Errorf("unexpected flags: %+v", cliErr)
	}
	if cliErr.Context["attempts"] != 3 {
		t.Errorf("context = %v", cliErr.Context)
	}

	appErr := NewAppError(cliErr)
	if appErr.Error() != "NETWORK_ERROR: download failed" {
		t.Errorf("Error() = %q", appErr.Error())
	}
}
