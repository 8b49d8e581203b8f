package protocol

import "errors"

var (
	ErrMalformed          = errors.New("protocol: malformed message")
	ErrEmptyMessage       = errors.New("protocol: empty message")
	ErrDuplicateAttribute = errors.New("protocol: duplicate attribute")
	ErrMultipleElements   = errors.New("protocol: more than one element")
	ErrUnexpectedContent  = errors.New("protocol: unexpected content")
	ErrInvalidCommandID   = errors.New("protocol: invalid command id")
)
