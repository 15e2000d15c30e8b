// Package feed delivers instrumentation updates to the console.
//
// A Source yields decoded update batches one at a time. Sources are read from
// a single goroutine; Close may be called from any goroutine and unblocks a
// pending Next.
package feed

import (
	"context"

	"github.com/fentz26/lookout/internal/wire"
)

// Source yields update batches.
type Source interface {
	// Next blocks until the next batch arrives. It returns an error wrapping
	// ErrMalformedUpdate for a batch that could not be decoded; the source
	// stays usable. Any other error ends the source.
	Next(ctx context.Context) (*wire.Update, error)

	// Close releases the source.
	Close() error
}
