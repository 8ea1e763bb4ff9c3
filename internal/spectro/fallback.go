package spectro

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// FallbackSource reads from a primary source and substitutes a fallback,
// normally Simulated, whenever the primary cannot be opened or fails. The
// primary is reopened on the next read after a failure.
type FallbackSource struct {
	mu        sync.Mutex
	open      func() (Source, error)
	primary   Source
	fallback  Source
	simulated bool
	logger    *slog.Logger
}

// NewFallbackSource builds a fallback source. open may be nil, in which case
// every read comes from fallback.
func NewFallbackSource(open func() (Source, error), fallback Source, logger *slog.Logger) *FallbackSource {
	if fallback == nil {
		fallback = NewSimulated(0)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FallbackSource{open: open, fallback: fallback, logger: logger}
}

// ReadSingle reads from the primary, falling back on any primary error.
func (f *FallbackSource) ReadSingle(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.primary == nil && f.open != nil {
		p, err := f.open()
		if err != nil {
			f.logger.Debug("sensor unavailable, using fallback", "error", err)
		} else {
			f.primary = p
		}
	}
	if f.primary != nil {
		v, err := f.primary.ReadSingle(ctx)
		if err == nil {
			f.simulated = false
			return v, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		f.logger.Warn("sensor read failed, using fallback", "error", err)
		f.closePrimary()
	}
	v, err := f.fallback.ReadSingle(ctx)
	if err != nil {
		return 0, err
	}
	f.simulated = true
	return v, nil
}

// Simulated reports whether the last successful read came from the fallback.
func (f *FallbackSource) Simulated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.simulated
}

// Close releases the primary source.
func (f *FallbackSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closePrimary()
}

func (f *FallbackSource) closePrimary() error {
	var err error
	if c, ok := f.primary.(io.Closer); ok {
		err = c.Close()
	}
	f.primary = nil
	return err
}
