package yew

import "github.com/23skdu/longbow-yew/internal/codes"

// Sentinel errors returned (possibly wrapped) by every instance method.
// Match with errors.Is, or map to a stable integer code with Code.
var (
	ErrGeneral       = codes.ErrGeneral
	ErrOutOfMemory   = codes.ErrOutOfMemory
	ErrInvalidIndex  = codes.ErrInvalidIndex
	ErrSizeMismatch  = codes.ErrSizeMismatch
	ErrUnsupported   = codes.ErrUnsupported
	ErrNumerical     = codes.ErrNumerical
	ErrNoResource    = codes.ErrNoResource
	ErrUninitialized = codes.ErrUninitialized
)

// Code maps an error to its stable integer code: 0 for nil, negative
// otherwise. The codes are identical across backends.
func Code(err error) int { return codes.Code(err) }
