package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lanlink/network"
	"lanlink/protocol"
	"lanlink/storage"
)

const (
	// DefaultInterval is the continuous reconcile loop period.
	DefaultInterval = 5 * time.Second
	// DefaultDebounce delays the on-change trigger past the last local
	// mutation, restarting on each new one.
	DefaultDebounce = 1200 * time.Millisecond
)

// EngineOptions configures the sync engine.
type EngineOptions struct {
	Interval time.Duration
	Debounce time.Duration

	// OnApplied notifies local consumers which resources changed after a
	// cycle applied remote data.
	OnApplied func(resources []string)

	Logger *slog.Logger
}

func (o EngineOptions) withDefaults() EngineOptions {
	out := o
	if out.Interval <= 0 {
		out.Interval = DefaultInterval
	}
	if out.Debounce <= 0 {
		out.Debounce = DefaultDebounce
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Engine reconciles the registered resources between the local replica
// and one remote. Each cycle runs preflight, push, then pull strictly in
// that order; per-resource failures log and continue, network-level
// failures stop the loop until the caller reconnects and runs it again.
type Engine struct {
	store  *storage.Store
	remote Remote
	opts   EngineOptions

	busyMu sync.Mutex
	busy   map[string]bool

	poke chan struct{}
}

// NewEngine creates an engine and hooks the store's mutation callback to
// its debounce trigger.
func NewEngine(store *storage.Store, remote Remote, options EngineOptions) *Engine {
	e := &Engine{
		store:  store,
		remote: remote,
		opts:   options.withDefaults(),
		busy:   make(map[string]bool),
		poke:   make(chan struct{}, 1),
	}
	store.SetMutationHook(func(string) { e.Poke() })
	return e
}

// Poke requests a debounced sync cycle after a local mutation.
func (e *Engine) Poke() {
	select {
	case e.poke <- struct{}{}:
	default:
	}
}

// SetBusy marks a resource as having an in-progress local mutation.
// Cycles skip pulling busy resources so in-flight state is never
// clobbered; push still transmits the last committed document.
func (e *Engine) SetBusy(name string, busy bool) {
	e.busyMu.Lock()
	defer e.busyMu.Unlock()
	if busy {
		e.busy[name] = true
	} else {
		delete(e.busy, name)
	}
}

func (e *Engine) isBusy(name string) bool {
	e.busyMu.Lock()
	defer e.busyMu.Unlock()
	return e.busy[name]
}

// Run drives the continuous loop plus the debounced trigger until the
// context cancels or a network-level failure stops it. The returned
// error is nil for cancellation, the failure otherwise.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.RunCycle(ctx); err != nil {
				return err
			}
		case <-e.poke:
			// Restart the debounce window on every new mutation.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(e.opts.Debounce)
			debounceC = debounce.C
		case <-debounceC:
			debounceC = nil
			if err := e.RunCycle(ctx); err != nil {
				return err
			}
		}
	}
}

// RunCycle performs one preflight + push + pull pass. It returns nil on
// success or skip, and the failure for network-level errors.
func (e *Engine) RunCycle(ctx context.Context) error {
	resources, err := e.store.ListResources()
	if err != nil {
		return err
	}
	if len(resources) == 0 {
		return nil
	}

	dirty, err := e.preflight(ctx, resources)
	if err != nil {
		return err
	}
	if !dirty {
		e.opts.Logger.Debug("sync preflight clean, skipping cycle")
		return nil
	}

	if err := e.push(ctx, resources); err != nil {
		return err
	}

	applied, err := e.pull(ctx, resources)
	if err != nil {
		return err
	}

	if len(applied) > 0 && e.opts.OnApplied != nil {
		e.opts.OnApplied(applied)
	}
	return nil
}

func (e *Engine) preflight(ctx context.Context, resources []storage.Resource) (bool, error) {
	for _, resource := range resources {
		meta, ok, err := e.remote.Meta(ctx, resource.Name)
		if err != nil {
			if fatal(err) {
				return false, err
			}
			// Can't tell whether we match; run the cycle.
			e.opts.Logger.Warn("sync preflight failed", "resource", resource.Name, "error", err)
			return true, nil
		}
		if !ok {
			// The remote has never created this resource; push will seed it.
			return true, nil
		}
		if !metadataMatches(resource, meta) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) push(ctx context.Context, resources []storage.Resource) error {
	for _, resource := range resources {
		accepted, reason, err := e.remote.Push(ctx, resource.Name, resource.Document, resource.UpdatedAt)
		if err != nil {
			if fatal(err) {
				return err
			}
			e.opts.Logger.Warn("sync push failed", "resource", resource.Name, "error", err)
			continue
		}
		if !accepted {
			e.opts.Logger.Warn("sync push rejected", "resource", resource.Name, "reason", reason)
		}
	}
	return nil
}

func (e *Engine) pull(ctx context.Context, resources []storage.Resource) ([]string, error) {
	var applied []string
	for _, resource := range resources {
		if e.isBusy(resource.Name) {
			e.opts.Logger.Debug("skipping busy resource", "resource", resource.Name)
			continue
		}

		document, remoteUpdatedAt, ok, err := e.remote.Pull(ctx, resource.Name)
		if err != nil {
			if fatal(err) {
				return applied, err
			}
			e.opts.Logger.Warn("sync pull failed", "resource", resource.Name, "error", err)
			continue
		}
		if !ok {
			continue
		}

		// Push may have run concurrently with local writes; compare
		// against the current local state, not the cycle's snapshot.
		local, err := e.store.GetResource(resource.Name)
		if err != nil {
			e.opts.Logger.Warn("sync local lookup failed", "resource", resource.Name, "error", err)
			continue
		}
		if local == nil {
			continue
		}

		switch local.Kind {
		case storage.ResourceKindCollection:
			// Whole-collection last-write-wins: apply only strictly newer.
			if remoteUpdatedAt <= local.UpdatedAt {
				continue
			}
			if err := e.store.ApplyRemote(local.Name, document, remoteUpdatedAt); err != nil {
				e.opts.Logger.Warn("sync apply failed", "resource", local.Name, "error", err)
				continue
			}
		case storage.ResourceKindFlat:
			if Fingerprint(document) == Fingerprint(local.Document) {
				continue
			}
			if err := e.store.ApplyRemote(local.Name, document, 0); err != nil {
				e.opts.Logger.Warn("sync apply failed", "resource", local.Name, "error", err)
				continue
			}
		default:
			continue
		}
		applied = append(applied, resource.Name)
	}
	return applied, nil
}

// fatal reports errors that must stop the loop: a dead or corrupt
// connection. A single command timeout is a per-resource failure.
func fatal(err error) bool {
	return errors.Is(err, network.ErrTransport) ||
		errors.Is(err, network.ErrSessionClosed) ||
		errors.Is(err, protocol.ErrProtocol) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
