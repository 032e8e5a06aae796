package common

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/liuxd6825/autowait/log"
)

// Browser is the entry point of the engine. It creates browser contexts
// on a backend and carries the engine-wide options.
type Browser struct {
	backend BrowserBackend
	opts    EngineOptions
	logger  *log.Logger

	mu       sync.Mutex
	contexts []*BrowserContext
}

// NewBrowser returns a Browser driving backend. Unset options take their
// defaults.
func NewBrowser(backend BrowserBackend, opts EngineOptions, logger *log.Logger) *Browser {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Browser{
		backend: backend,
		opts:    NewEngineOptions().Apply(opts),
		logger:  logger,
	}
}

// Options returns the engine options in effect.
func (b *Browser) Options() EngineOptions { return b.opts }

// NewContext creates a new browser context.
func (b *Browser) NewContext(ctx context.Context, opts *BrowserContextOptions) (*BrowserContext, error) {
	b.logger.Debugf("Browser:NewContext", "opts:%+v", opts)

	if opts == nil {
		opts = &BrowserContextOptions{}
	}
	o := *opts
	if len(o.StorageState) == 0 && o.StorageStatePath != "" {
		state, err := readStorageState(o.Persister, o.StorageStatePath)
		if err != nil {
			return nil, fmt.Errorf("creating browser context: %w", err)
		}
		o.StorageState = state
	} else if len(o.StorageState) > 0 {
		if err := validateStorageState(o.StorageState); err != nil {
			return nil, fmt.Errorf("creating browser context: %w", err)
		}
	}

	backend, err := b.backend.NewContext(ctx, ContextBackendOptions{
		BaseURL:          o.BaseURL,
		ExtraHTTPHeaders: o.ExtraHTTPHeaders,
		StorageState:     o.StorageState,
	})
	if err != nil {
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	// The context outlives the call that created it.
	bc := newBrowserContext(context.WithoutCancel(ctx), b, backend, o)

	b.mu.Lock()
	b.contexts = append(b.contexts, bc)
	b.mu.Unlock()

	return bc, nil
}

// NewPage creates a new context with a single page in it.
func (b *Browser) NewPage(ctx context.Context, opts *BrowserContextOptions) (*Page, error) {
	bc, err := b.NewContext(ctx, opts)
	if err != nil {
		return nil, err
	}
	p, err := bc.NewPage(ctx)
	if err != nil {
		return nil, errors.Join(err, bc.Close(ctx))
	}
	return p, nil
}

// Contexts returns the open browser contexts.
func (b *Browser) Contexts() []*BrowserContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.contexts)
}

// Close closes every open context.
func (b *Browser) Close(ctx context.Context) error {
	b.logger.Debugf("Browser:Close", "contexts:%d", len(b.Contexts()))

	var errs []error
	for _, bc := range b.Contexts() {
		if err := bc.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Browser) removeContext(bc *BrowserContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contexts = slices.DeleteFunc(b.contexts, func(x *BrowserContext) bool { return x == bc })
}
