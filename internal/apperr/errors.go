package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("duplicate name")
	ErrUnknownSchema = errors.New("unknown cache schema")
)
