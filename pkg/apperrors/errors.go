package apperrors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnsupportedMime   = errors.New("unsupported mime type")
	ErrInvalidTransition = errors.New("invalid document state transition")
	ErrDocumentFailed    = errors.New("document is in failed state")
	ErrDocumentBusy      = errors.New("document already has an active job")
)
