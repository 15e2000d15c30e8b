package feed

import "errors"

// Sentinel errors for feed operations.
var (
	ErrClosed          = errors.New("feed closed")
	ErrMalformedUpdate = errors.New("malformed update")
	ErrUnsupportedURL  = errors.New("unsupported feed URL")
)
