package realtime

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/barcodedrop/barcodedrop-server/internal/id"
	"github.com/barcodedrop/barcodedrop-server/internal/protocol"
)

// Options tunes per-connection behaviour.
type Options struct {
	// PingInterval is the transport keepalive period.
	PingInterval time.Duration
	// SendTimeout bounds a single send or ping.
	SendTimeout time.Duration
}

// AttachHook runs after a connection has been registered.
type AttachHook func(conn *Connection)

// Registry owns the set of live watcher connections, indexed by connection
// id and by subscribed user. Both indexes change under one lock.
type Registry struct {
	logger *slog.Logger
	opts   Options

	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[string]map[string]*Connection
	closed bool

	hookMu   sync.RWMutex
	onAttach AttachHook

	// ctx parents every per-connection goroutine.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger, opts Options) *Registry {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 5 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		logger: logger,
		opts:   opts,
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnAttach sets the hook run after each successful Attach.
func (r *Registry) OnAttach(hook AttachHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onAttach = hook
}

// Attach registers a transport for user and starts its ping and read loops.
func (r *Registry) Attach(user string, t Transport) (string, error) {
	if user == "" {
		return "", ErrNoUser
	}

	connCtx, cancel := context.WithCancel(r.ctx)
	conn := &Connection{
		ID:          id.NewConnectionID(),
		User:        user,
		ConnectedAt: time.Now(),
		transport:   t,
		cancel:      cancel,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return "", ErrRegistryClosed
	}
	r.conns[conn.ID] = conn
	bucket, ok := r.byUser[user]
	if !ok {
		bucket = make(map[string]*Connection)
		r.byUser[user] = bucket
	}
	bucket[conn.ID] = conn
	total := len(r.conns)
	r.wg.Add(2)
	r.mu.Unlock()

	go r.pingLoop(connCtx, conn.ID, t)
	go r.readLoop(connCtx, conn.ID, t)

	r.logger.Info("watcher connected",
		slog.String("connection_id", conn.ID),
		slog.String("user", user),
		slog.Int("total_connections", total))

	r.hookMu.RLock()
	hook := r.onAttach
	r.hookMu.RUnlock()
	if hook != nil {
		hook(conn)
	}

	return conn.ID, nil
}

// Detach removes a connection and closes its transport. Unknown ids are ignored.
func (r *Registry) Detach(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.removeLocked(conn)
	total := len(r.conns)
	r.mu.Unlock()

	r.closeConn(conn)

	r.logger.Info("watcher disconnected",
		slog.String("connection_id", connID),
		slog.String("user", conn.User),
		slog.Duration("duration", time.Since(conn.ConnectedAt)),
		slog.Int("total_connections", total))
}

func (r *Registry) removeLocked(conn *Connection) {
	delete(r.conns, conn.ID)
	if bucket, ok := r.byUser[conn.User]; ok {
		delete(bucket, conn.ID)
		if len(bucket) == 0 {
			delete(r.byUser, conn.User)
		}
	}
}

func (r *Registry) closeConn(conn *Connection) {
	conn.cancel()
	if err := conn.transport.Close(); err != nil {
		r.logger.Debug("closing transport failed",
			slog.String("connection_id", conn.ID),
			slog.String("error", err.Error()))
	}
}

// Active returns every connection whose transport is still open.
func (r *Registry) Active() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		if !conn.Closed() {
			out = append(out, conn)
		}
	}
	return out
}

// ForUser returns the open connections subscribed to user.
func (r *Registry) ForUser(user string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.byUser[user]
	out := make([]*Connection, 0, len(bucket))
	for _, conn := range bucket {
		if !conn.Closed() {
			out = append(out, conn)
		}
	}
	return out
}

// Users returns the users with at least one open connection, sorted.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for user, bucket := range r.byUser {
		for _, conn := range bucket {
			if !conn.Closed() {
				users = append(users, user)
				break
			}
		}
	}
	slices.Sort(users)
	return users
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send encodes msg once and delivers it to each connection independently.
// It returns the number of successful deliveries.
func (r *Registry) Send(ctx context.Context, msg protocol.Message, conns []*Connection) int {
	if len(conns) == 0 {
		return 0
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("encode sync message failed",
			slog.String("type", string(msg.MessageType())),
			slog.String("error", err.Error()))
		return 0
	}
	text := string(data)

	var (
		delivered atomic.Int32
		wg        sync.WaitGroup
	)
	for _, conn := range conns {
		wg.Go(func() {
			if err := r.deliver(ctx, conn, text); err != nil {
				r.logger.Warn("sync message not delivered",
					slog.String("type", string(msg.MessageType())),
					slog.String("error", err.Error()))
				return
			}
			delivered.Add(1)
		})
	}
	wg.Wait()

	n := int(delivered.Load())
	r.logger.Debug("sync message sent",
		slog.String("type", string(msg.MessageType())),
		slog.String("txn", msg.TxnID()),
		slog.Group("stats",
			slog.Int("delivered", n),
			slog.Int("failed", len(conns)-n)))
	return n
}

func (r *Registry) deliver(ctx context.Context, conn *Connection, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
	defer cancel()

	if err := conn.transport.SendText(sendCtx, text); err != nil {
		return &DeliveryError{ConnectionID: conn.ID, User: conn.User, Err: err}
	}
	return nil
}

func (r *Registry) pingLoop(ctx context.Context, connID string, t Transport) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
			err := t.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Debug("ping failed",
						slog.String("connection_id", connID),
						slog.String("error", err.Error()))
					r.Detach(connID)
				}
				return
			}
		}
	}
}

func (r *Registry) readLoop(ctx context.Context, connID string, t Transport) {
	defer r.wg.Done()

	for {
		text, err := t.ReadText(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Debug("read failed",
					slog.String("connection_id", connID),
					slog.String("error", err.Error()))
				r.Detach(connID)
			}
			return
		}

		if text != protocol.PingText {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
		err = t.SendText(sendCtx, protocol.PongText)
		cancel()
		if err != nil && ctx.Err() == nil {
			r.logger.Debug("pong failed",
				slog.String("connection_id", connID),
				slog.String("error", err.Error()))
		}
	}
}

// Close detaches every connection and rejects later Attach calls. It waits
// for the per-connection goroutines until ctx ends.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Connection)
	r.byUser = make(map[string]map[string]*Connection)
	r.mu.Unlock()

	r.cancel()

	// A dead peer can stall its close handshake, so transports are closed
	// in parallel and the wait below is bounded by ctx.
	var closing sync.WaitGroup
	for _, conn := range conns {
		closing.Go(func() { r.closeConn(conn) })
	}

	done := make(chan struct{})
	go func() {
		closing.Wait()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("all watchers disconnected", slog.Int("count", len(conns)))
		return nil
	case <-ctx.Done():
		r.logger.Warn("timed out waiting for watcher goroutines")
		return ctx.Err()
	}
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
