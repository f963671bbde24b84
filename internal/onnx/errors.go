package onnx

import "errors"

var (
	// ErrMalformed reports bytes that are not a valid ONNX protobuf.
	ErrMalformed = errors.New("onnx: malformed model")
	// ErrUnsupported reports valid ONNX content this package cannot represent,
	// such as externally stored tensor data.
	ErrUnsupported = errors.New("onnx: unsupported content")
)
