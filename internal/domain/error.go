package domain

import "errors"

var (
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrNoSchema       = errors.New("store backend has no schema")
)
