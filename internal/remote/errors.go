package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteCallFailed matches every CallError.
	ErrRemoteCallFailed = errors.New("remote call failed")
	// ErrInvalidInput is returned for requests rejected before sending.
	ErrInvalidInput = errors.New("invalid input")
)

// Call names a remote endpoint.
type Call string

const (
	CallReconstruct Call = "reconstruct"
	CallVoxelize    Call = "voxelize"
	CallMapBlocks   Call = "map-blocks"
	CallExport      Call = "export"
	CallDownload    Call = "download"
)

// defaultDetail is reported when a failed response carries no detail.
var defaultDetail = map[Call]string{
	CallReconstruct: "reconstruction failed",
	CallVoxelize:    "voxelization failed",
	CallMapBlocks:   "block mapping failed",
	CallExport:      "export failed",
	CallDownload:    "download failed",
}

// CallError describes a failed remote call: a non-2xx response, in which
// case StatusCode is set, or a transport failure, in which case Err is.
type CallError struct {
	Call       Call
	StatusCode int
	Detail     string
	Err        error
}

func (e *CallError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Call, e.Detail, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Call, e.Detail, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Call, e.Detail)
	}
}

// Unwrap exposes ErrRemoteCallFailed and the transport error.
func (e *CallError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRemoteCallFailed, e.Err}
	}
	return []error{ErrRemoteCallFailed}
}
