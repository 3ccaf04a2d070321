// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package stages

import "fmt"

// ErrWorkspace is returned when workspace I/O fails.
type ErrWorkspace struct {
	Op   string // walk, stat, read
	Path string
	Err  error
}

func (e *ErrWorkspace) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ErrWorkspace) Unwrap() error {
	return e.Err
}

// ErrStore is returned when store operations fail.
type ErrStore struct {
	Op  string
	Err error
}

func (e *ErrStore) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *ErrStore) Unwrap() error {
	return e.Err
}

// ErrDecode is returned when a file cannot be decoded during analysis.
type ErrDecode struct {
	Path string
	Err  error
}

func (e *ErrDecode) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *ErrDecode) Unwrap() error {
	return e.Err
}

// ErrProfiling is returned when the profiling stage fails as a whole.
type ErrProfiling struct {
	Err error
}

func (e *ErrProfiling) Error() string {
	return fmt.Sprintf("profiling: %v", e.Err)
}

func (e *ErrProfiling) Unwrap() error {
	return e.Err
}

// Error code constants for database storage.
const (
	ErrCodeWorkspace = "WORKSPACE"
	ErrCodeStore     = "STORE"
	ErrCodeDecode    = "DECODE"
	ErrCodeProfiling = "PROFILING"
	ErrCodeUnknown   = "UNKNOWN"
)

// ErrorCode returns the error code string for a given error.
func ErrorCode(err error) string {
	switch err.(type) {
	case *ErrWorkspace:
		return ErrCodeWorkspace
	case *ErrStore:
		return ErrCodeStore
	case *ErrDecode:
		return ErrCodeDecode
	case *ErrProfiling:
		return ErrCodeProfiling
	default:
		return ErrCodeUnknown
	}
}
