package utils

import "time"

// Workspace layout
const (
	StateDirName     = ".drivews"
	StateDBName      = "workspace.db"
	TempFilePrefix   = ".drivews-"
	TempFileSuffix   = ".part"
	BackupFileSuffix = ".backup"
)

// Transfer defaults
const (
	DefaultWorkers       = 8
	MaxUploadWorkers     = 4
	DefaultMaxDepth      = 0 // unlimited
	DefaultTrackedFolder = "Documents"
	CopyBufferSize       = 1024 * 1024
)

// Retry configuration
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// ModTimeTolerance absorbs filesystems that store coarse modification times.
const ModTimeTolerance = 2 * time.Second

// OAuth scopes
const (
	ScopeDriveFull     = "https://www.googleapis.com/auth/drive"
	ScopeDriveReadonly = "https://www.googleapis.com/auth/drive.readonly"
)

// MimeTypeFolder identifies Drive folders.
const MimeTypeFolder = "application/vnd.google-apps.folder"

// Schema version
const SchemaVersion = "1.0"
