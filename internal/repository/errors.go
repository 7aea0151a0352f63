package repository

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("another entry is already running")
	ErrFinalized = errors.New("entry already finalized")
)
