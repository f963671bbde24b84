package tensor

import "errors"

var (
	ErrShape = errors.New("tensor: shape mismatch")
	ErrDType = errors.New("tensor: unsupported dtype")
)
