package pipeline

import (
	"errors"
	"fmt"

	"github.com/banshee-data/blockview/internal/asset"
	"github.com/banshee-data/blockview/internal/atlas"
	"github.com/banshee-data/blockview/internal/model"
	"github.com/banshee-data/blockview/internal/remote"
)

var (
	// ErrNoActiveSession is returned by stage calls made before a
	// reconstruction has succeeded.
	ErrNoActiveSession = errors.New("no active session")
	// ErrOperationInProgress is returned when a stage call overlaps another.
	ErrOperationInProgress = errors.New("operation in progress")
	// ErrInvalidStage is returned when a session exists but is not in a
	// state the call can run from. It also matches ErrNoActiveSession.
	ErrInvalidStage = errors.New("invalid stage for this operation")
	// ErrStaleResponse is returned by a call that completed after Reset.
	ErrStaleResponse = errors.New("session was reset while the call was in flight")
)

// StageError is what every failing pipeline call returns and what the
// notifier receives.
type StageError struct {
	Stage model.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Message is a short description for display to the user.
func (e *StageError) Message() string {
	var ce *remote.CallError
	switch {
	case errors.As(e.Err, &ce):
		return ce.Detail
	case errors.Is(e.Err, ErrInvalidStage):
		return fmt.Sprintf("The %s step is not available yet.", e.Stage)
	case errors.Is(e.Err, ErrNoActiveSession):
		return "Upload an image first."
	case errors.Is(e.Err, ErrOperationInProgress):
		return "Another step is still running."
	case errors.Is(e.Err, atlas.ErrAtlasNotReady):
		return "Block textures are not loaded, blocks cannot be displayed."
	case errors.Is(e.Err, asset.ErrAssetLoad):
		return "Could not load the 3D model."
	default:
		return e.Err.Error()
	}
}
