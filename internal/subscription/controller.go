package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"broker-governor/internal/logger"
	"broker-governor/internal/types"
)

// ErrStreamClosed is returned by streams whose server side ended the call.
var ErrStreamClosed = errors.New("subscription: stream closed")

// Canceled reports whether the session that opened a stream no longer wants
// it. Transports poll it on every inbound chunk.
type Canceled func() bool

type Stream[T any] interface {
	Recv(ctx context.Context) (T, error)
	Close() error
}

// Transport opens server-streamed calls. Each open carries the full scope.
type Transport interface {
	OpenPublicTrades(ctx context.Context, instrumentIDs []string, canceled Canceled) (Stream[types.TradeRecord], error)
	OpenOrderFills(ctx context.Context, accountIDs []string, canceled Canceled) (Stream[types.OrderFill], error)
}

// Sinks receive stream events on the driver goroutine. They must not call
// back into the Controller synchronously.
type Sinks struct {
	PublicTrade func(ctx context.Context, rec types.TradeRecord)
	OrderFill   func(ctx context.Context, fill types.OrderFill)
}

const DefaultRestartDelay = 500 * time.Millisecond

type Option func(*Controller)

func WithRestartDelay(d time.Duration) Option {
	return func(c *Controller) { c.restartDelay = d }
}

// Controller owns the public-trade and order-fill sessions. Every (re)start
// bumps the session generation; a driver loop whose generation is stale exits
// without touching shared state.
type Controller struct {
	transport    Transport
	sinks        Sinks
	restartDelay time.Duration

	trades *session
	fills  *session
}

func New(transport Transport, sinks Sinks, opts ...Option) *Controller {
	c := &Controller{
		transport:    transport,
		sinks:        sinks,
		restartDelay: DefaultRestartDelay,
		trades:       newSession(KindPublicTrades),
		fills:        newSession(KindOrderFills),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sinks.PublicTrade == nil {
		c.sinks.PublicTrade = func(context.Context, types.TradeRecord) {}
	}
	if c.sinks.OrderFill == nil {
		c.sinks.OrderFill = func(context.Context, types.OrderFill) {}
	}
	return c
}

func (c *Controller) session(kind Kind) *session {
	if kind == KindOrderFills {
		return c.fills
	}
	return c.trades
}

func (c *Controller) Session(kind Kind) SessionInfo {
	return c.session(kind).info()
}

// StartPublicTrades streams trades for instrumentIDs. Calling it again with
// the same scope while streaming is a no-op; a different scope supersedes the
// running session. It reports whether a new session was started.
func (c *Controller) StartPublicTrades(ctx context.Context, instrumentIDs []string) bool {
	s := c.trades
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]struct{}, len(instrumentIDs))
	for _, id := range instrumentIDs {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	if len(next) == 0 {
		logger.Warn(ctx, "Public trade subscription requested with empty scope")
		return false
	}
	if s.isActive() && sameScope(s.scope, next) {
		return false
	}

	s.scope = next
	c.launch(ctx, s)
	return true
}

func (c *Controller) StopPublicTrades(ctx context.Context) error {
	return c.stop(ctx, c.trades)
}

// AddAccount adds accountID to the order-fill scope and reissues the stream
// with every account in scope. It reports whether a new session was started.
func (c *Controller) AddAccount(ctx context.Context, accountID string) bool {
	if accountID == "" {
		return false
	}
	s := c.fills
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scope[accountID]; ok && s.isActive() {
		return false
	}
	s.scope[accountID] = struct{}{}
	c.launch(ctx, s)
	return true
}

// RemoveAccount drops accountID from the order-fill scope. The session is
// reissued for the remaining accounts, or stopped when none remain.
func (c *Controller) RemoveAccount(ctx context.Context, accountID string) bool {
	s := c.fills
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scope[accountID]; !ok {
		return false
	}
	delete(s.scope, accountID)

	if len(s.scope) == 0 {
		c.stopLocked(ctx, s)
		return true
	}
	if s.isActive() {
		c.launch(ctx, s)
	}
	return true
}

func (c *Controller) StopOrderFills(ctx context.Context) error {
	return c.stop(ctx, c.fills)
}

// Close stops both sessions and waits for their loops to exit.
func (c *Controller) Close(ctx context.Context) error {
	return errors.Join(c.StopPublicTrades(ctx), c.StopOrderFills(ctx))
}

func sameScope(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

// launch supersedes any running loop with a new generation. Caller holds s.mu.
func (c *Controller) launch(ctx context.Context, s *session) {
	c.launchFrom(context.WithoutCancel(ctx), s)
}

// launchFrom starts a loop whose context derives from base. Restarts reuse
// the base of the call that started the session so the chain does not grow.
func (c *Controller) launchFrom(base context.Context, s *session) {
	ctx := base
	gen := s.bump()
	if s.cancel != nil {
		s.cancel()
	}

	s.base = base
	runCtx, cancel := context.WithCancel(base)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.state = StateStarting
	scope := s.scopeList()

	logger.Info(ctx, "Subscription starting",
		"kind", s.kind.String(), "generation", gen, "scope_size", len(scope))

	go c.drive(runCtx, s, gen, scope, done)
}

func (c *Controller) stop(ctx context.Context, s *session) error {
	s.mu.Lock()
	done := c.stopLocked(ctx, s)
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopLocked deactivates s and returns the channel closed when its loop
// exits. Caller holds s.mu.
func (c *Controller) stopLocked(ctx context.Context, s *session) <-chan struct{} {
	wasActive := s.isActive()
	s.deactivate()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.state != StateIdle {
		s.state = StateStopped
	}
	if wasActive {
		logger.Info(ctx, "Subscription stopped", "kind", s.kind.String())
	}
	return s.done
}

func (c *Controller) drive(ctx context.Context, s *session, gen uint64, scope []string, done chan struct{}) {
	defer close(done)

	var err error
	switch s.kind {
	case KindPublicTrades:
		err = runLoop(ctx, s, gen,
			func(canceled Canceled) (Stream[types.TradeRecord], error) {
				return c.transport.OpenPublicTrades(ctx, scope, canceled)
			},
			c.sinks.PublicTrade)
	case KindOrderFills:
		err = runLoop(ctx, s, gen,
			func(canceled Canceled) (Stream[types.OrderFill], error) {
				return c.transport.OpenOrderFills(ctx, scope, canceled)
			},
			c.sinks.OrderFill)
	}

	if err == nil || !s.current(gen) {
		logger.Debug(ctx, "Subscription loop exited", "kind", s.kind.String(), "generation", gen)
		return
	}

	s.mu.Lock()
	if s.current(gen) {
		s.state = StateError
	}
	s.mu.Unlock()
	logger.ErrorWithErr(ctx, "Subscription stream failed, restarting", err,
		"kind", s.kind.String(), "generation", gen, "delay", c.restartDelay.String())

	timer := time.NewTimer(c.restartDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	c.restart(s, gen)
}

// restart relaunches s for the failed generation gen, unless it was stopped
// or superseded during the delay.
func (c *Controller) restart(s *session, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		return
	}
	s.restarts++
	c.launchFrom(s.base, s)
}

// runLoop opens one stream and dispatches its messages until the stream
// fails or the generation goes stale. A nil result means the loop was
// superseded or stopped.
func runLoop[T any](ctx context.Context, s *session, gen uint64, open func(Canceled) (Stream[T], error), deliver func(context.Context, T)) error {
	canceled := func() bool {
		return ctx.Err() != nil || !s.current(gen)
	}
	if canceled() {
		return nil
	}

	stream, err := open(canceled)
	if err != nil {
		if canceled() {
			return nil
		}
		return fmt.Errorf("open %s stream: %w", s.kind, err)
	}
	defer stream.Close()

	s.mu.Lock()
	if s.current(gen) {
		s.state = StateStreaming
	}
	s.mu.Unlock()

	for {
		if canceled() {
			return nil
		}
		msg, err := stream.Recv(ctx)
		if err != nil {
			if canceled() {
				return nil
			}
			return fmt.Errorf("recv %s stream: %w", s.kind, err)
		}
		if !s.dispatchIfCurrent(gen, func() { deliver(ctx, msg) }) {
			return nil
		}
	}
}
