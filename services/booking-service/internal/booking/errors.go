package booking

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrNotFound        = errors.New("not found")
	ErrStorage         = errors.New("storage failure")
)
