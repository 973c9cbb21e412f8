package transfer

import "errors"

var (
	ErrNotFound    = errors.New("task not found")
	ErrCancelled   = errors.New("transfer cancelled by user")
	ErrStalled     = errors.New("transfer stalled")
	ErrShutdown    = errors.New("scheduler shut down")
	ErrUnknownKind = errors.New("unknown task kind")
)
