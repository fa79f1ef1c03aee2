package common

import "fmt"

var (
	ErrInvalidDate      = fmt.Errorf("invalid date")
	ErrInvalidRange     = fmt.Errorf("invalid range: end precedes start")
	ErrInvalidSlot      = fmt.Errorf("invalid half-hour slot")
	ErrTransferError    = fmt.Errorf("transfer failed")
	ErrNotFoundError    = fmt.Errorf("remote file not found")
	ErrCredentialsInURL = fmt.Errorf("credentials must not be embedded in url")
	ErrWriteError       = fmt.Errorf("write failed")
	ErrPartialRange     = fmt.Errorf("range finished with failures")
	ErrRunInProgress    = fmt.Errorf("download run has already started")
)
