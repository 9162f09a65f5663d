package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxFileSize is the size cap for indexable files (1 MiB).
// Larger files are almost always generated or vendored artifacts.
const DefaultMaxFileSize = 1 << 20

// FileInfo describes a discovered source file.
type FileInfo struct {
	// Path is relative to the repository root, slash-separated.
	Path string
	// AbsPath is the absolute filesystem path.
	AbsPath string
	// Size in bytes.
	Size int64
	// ModTime is the file's modification time.
	ModTime time.Time
	// Language is the detected source language ("python", "javascript",
	// "typescript", "tsx", "go").
	Language string
}

// ScanResult is a single item streamed from Scan.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// ScanOptions configures a scan.
type ScanOptions struct {
	// RootDir is the repository root to walk.
	RootDir string
	// MaxFileSize caps file size in bytes (default DefaultMaxFileSize).
	MaxFileSize int64
	// RespectGitignore applies .gitignore rules, including nested files.
	RespectGitignore bool
	// ExtraExcludes are additional directory names to skip.
	ExtraExcludes []string
}

// languageByExtension maps file extensions to parser languages.
var languageByExtension = map[string]string{
	".py":  "python",
	".js":  "javascript",
	".jsx": "javascript",
	".ts":  "typescript",
	".tsx": "tsx",
	".go":  "go",
}

// DetectLanguage returns the language for a path, or "" if unsupported.
func DetectLanguage(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}
