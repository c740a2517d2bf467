// Package cluster hosts grains: addressable units that process their messages one at a time.
//
// A grain is activated on the first message sent to its address and evicted after an idle
// period. Messages for one address are handled strictly in order by a single goroutine;
// different addresses run in parallel.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/novotx/elsa-core/pkg/metrics"
)

var (
	// ErrDeliveryTimeout indicates a grain did not answer before the request deadline.
	ErrDeliveryTimeout = errors.New("grain delivery timed out")

	// ErrClusterStopped indicates the cluster was stopped before the request was handled.
	ErrClusterStopped = errors.New("cluster stopped")

	// ErrUnknownKind indicates no factory is registered for the grain kind.
	ErrUnknownKind = errors.New("unknown grain kind")
)

// Grain handles the messages sent to one address. Receive is never called concurrently for
// the same grain.
type Grain interface {
	Receive(ctx context.Context, msg any) (any, error)
}

// Activator is implemented by grains that load state before their first message.
// A failed activation is retried on the next message.
type Activator interface {
	Activate(ctx context.Context) error
}

// Deactivator is implemented by grains that flush state when evicted or when the cluster stops.
type Deactivator interface {
	Deactivate(ctx context.Context) error
}

// Factory creates the grain of kind for identity.
type Factory func(identity string) (Grain, error)

// Config tunes grain lifetimes and delivery.
type Config struct {
	// IdleTimeout evicts a grain that received no message for this long. Zero disables eviction.
	IdleTimeout time.Duration
	// RequestTimeout bounds each request when the caller's context has no earlier deadline.
	RequestTimeout time.Duration
	// MailboxSize is the number of queued messages per grain before senders block.
	MailboxSize int
	// DeactivateTimeout bounds each Deactivate call.
	DeactivateTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:       5 * time.Minute,
		RequestTimeout:    30 * time.Second,
		MailboxSize:       64,
		DeactivateTimeout: 10 * time.Second,
	}
}

type Option func(*Config)

func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) { c.IdleTimeout = d }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

func WithMailboxSize(n int) Option {
	return func(c *Config) { c.MailboxSize = n }
}

// Address is the deterministic name of a grain: "<kind>-<identity>", or the kind alone for
// singleton grains with an empty identity.
func Address(kind, identity string) string {
	if identity == "" {
		return kind
	}

	return kind + "-" + identity
}

// Cluster routes requests to grains. The map lock covers addressing and activation only.
type Cluster struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	kinds       map[string]Factory
	activations map[string]*activation
	stopped     bool

	wg sync.WaitGroup
}

// New creates a cluster. m may be nil.
func New(logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Cluster {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.MailboxSize < 1 {
		cfg.MailboxSize = 1
	}

	return &Cluster{
		cfg:         cfg,
		logger:      logger.With("module", "cluster"),
		metrics:     m,
		kinds:       make(map[string]Factory),
		activations: make(map[string]*activation),
	}
}

// Register installs the factory of a grain kind, replacing any previous one.
func (c *Cluster) Register(kind string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.kinds[kind] = factory
}

// Request delivers msg to the grain addressed by kind and identity, activating it when needed,
// and waits for its answer.
func (c *Cluster) Request(ctx context.Context, kind, identity string, msg any) (any, error) {
	address := Address(kind, identity)

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	act, err := c.acquire(kind, identity, address)
	if err != nil {
		return nil, err
	}

	env := envelope{ctx: ctx, msg: msg, reply: make(chan result, 1)}

	select {
	case act.mailbox <- env:
	case <-act.done:
		act.release()

		return nil, fmt.Errorf("%w: %s", ErrClusterStopped, address)
	case <-ctx.Done():
		act.release()

		return nil, deliveryError(address, ctx.Err())
	}

	select {
	case r := <-env.reply:
		return r.value, r.err
	case <-act.done:
		select {
		case r := <-env.reply:
			return r.value, r.err
		default:
			return nil, fmt.Errorf("%w: %s", ErrClusterStopped, address)
		}
	case <-ctx.Done():
		return nil, deliveryError(address, ctx.Err())
	}
}

func deliveryError(address string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrDeliveryTimeout, address, err)
	}

	return fmt.Errorf("request to %s abandoned: %w", address, err)
}

// acquire returns the live activation of address with one pending message reserved on it.
func (c *Cluster) acquire(kind, identity, address string) (*activation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, fmt.Errorf("%w: %s", ErrClusterStopped, address)
	}

	act, ok := c.activations[address]
	if !ok {
		factory, ok := c.kinds[kind]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
		}

		grain, err := factory(identity)
		if err != nil {
			return nil, fmt.Errorf("failed to create grain %s: %w", address, err)
		}

		act = &activation{
			cluster: c,
			kind:    kind,
			address: address,
			grain:   grain,
			mailbox: make(chan envelope, c.cfg.MailboxSize),
			stop:    make(chan struct{}),
			done:    make(chan struct{}),
		}

		c.activations[address] = act
		c.metrics.GrainActivated(kind)
		c.logger.Debug("Grain activated", "address", address)

		c.wg.Add(1)

		go act.run()
	}

	act.mu.Lock()
	act.pending++
	act.mu.Unlock()

	return act, nil
}

// evict removes an idle activation. It reports false when messages arrived meanwhile.
func (c *Cluster) evict(act *activation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	act.mu.Lock()
	defer act.mu.Unlock()

	if act.pending > 0 {
		return false
	}

	if c.activations[act.address] == act {
		delete(c.activations, act.address)
	}

	return true
}

// IsActive reports whether the grain at kind and identity is currently activated.
func (c *Cluster) IsActive(kind, identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.activations[Address(kind, identity)]

	return ok
}

// ActiveCount returns the number of activated grains.
func (c *Cluster) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.activations)
}

// Stop rejects new requests, lets every grain finish its current message, fails queued
// ones with ErrClusterStopped and deactivates the grains.
func (c *Cluster) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()

		return nil
	}

	c.stopped = true

	for _, act := range c.activations {
		close(act.stop)
	}
	c.mu.Unlock()

	finished := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		c.logger.InfoContext(ctx, "Cluster stopped")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop cluster: %w", ctx.Err())
	}
}

type envelope struct {
	ctx   context.Context
	msg   any
	reply chan result
}

type result struct {
	value any
	err   error
}

type activation struct {
	cluster *Cluster
	kind    string
	address string
	grain   Grain
	mailbox chan envelope
	stop    chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	pending   int
	activated bool
}

func (a *activation) release() {
	a.mu.Lock()
	a.pending--
	a.mu.Unlock()
}

func (a *activation) run() {
	defer a.cluster.wg.Done()
	defer close(a.done)

	var idle <-chan time.Time

	var timer *time.Timer

	if a.cluster.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(a.cluster.cfg.IdleTimeout)
		defer timer.Stop()

		idle = timer.C
	}

	for {
		select {
		case env := <-a.mailbox:
			env.reply <- a.handle(env)
			a.release()

			if timer != nil {
				timer.Reset(a.cluster.cfg.IdleTimeout)
			}
		case <-idle:
			if a.cluster.evict(a) {
				a.deactivate("idle")

				return
			}

			timer.Reset(a.cluster.cfg.IdleTimeout)
		case <-a.stop:
			a.drain()
			a.deactivate("stopped")

			return
		}
	}
}

// drain fails the messages still queued when the cluster stops.
func (a *activation) drain() {
	for {
		select {
		case env := <-a.mailbox:
			env.reply <- result{err: fmt.Errorf("%w: %s", ErrClusterStopped, a.address)}
			a.release()
		default:
			return
		}
	}
}

func (a *activation) handle(env envelope) (r result) {
	defer func() {
		if p := recover(); p != nil {
			a.cluster.logger.Error("Grain panicked", "address", a.address, "panic", p)
			r = result{err: fmt.Errorf("grain %s panicked: %v\n%s", a.address, p, debug.Stack())}
		}
	}()

	err := env.ctx.Err()
	if err != nil {
		return result{err: deliveryError(a.address, err)}
	}

	if !a.activated {
		if activator, ok := a.grain.(Activator); ok {
			err = activator.Activate(env.ctx)
			if err != nil {
				return result{err: fmt.Errorf("failed to activate grain %s: %w", a.address, err)}
			}
		}

		a.activated = true
	}

	value, err := a.grain.Receive(env.ctx, env.msg)

	return result{value: value, err: err}
}

func (a *activation) deactivate(reason string) {
	defer a.cluster.metrics.GrainDeactivated(a.kind)

	a.cluster.logger.Debug("Grain deactivated", "address", a.address, "reason", reason)

	deactivator, ok := a.grain.(Deactivator)
	if !ok || !a.activated {
		return
	}

	ctx := context.Background()

	if a.cluster.cfg.DeactivateTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, a.cluster.cfg.DeactivateTimeout)
		defer cancel()
	}

	err := deactivator.Deactivate(ctx)
	if err != nil {
		a.cluster.logger.Error("Failed to deactivate grain", "address", a.address, "error", err)
	}
}
