package hostlink

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/memoir/internal/core"
	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/security"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Service names.
const (
	HandlerService     = "hook.handler"
	ConnectionsService = "hook.connections"
	memoryService      = "memory.facade"
	auditService       = "security.audit"
)

const (
	defaultMaxConnections  = 8
	defaultIdleTimeout     = 5 * time.Minute
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxMessageBytes = 64 << 10
	helloReadTimeout       = 10 * time.Second
)

// Memory is the part of the facade a host can drive.
type Memory interface {
	PreTurnReport(ctx context.Context, message string) facade.PreTurnReport
	Tick(ctx context.Context) facade.TickReport
	Stats(ctx context.Context) facade.Stats
	Health(ctx context.Context) facade.HealthReport
}

// Config holds YAML configuration for the hook module.
type Config struct {
	Tokens          []string      `yaml:"tokens"`
	MaxConnections  int           `yaml:"max_connections"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxMessageBytes int           `yaml:"max_message_bytes"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = defaultMaxMessageBytes
	}
}

// Module accepts host connections on /ws/hook (mounted by the gateway) and
// serves memory requests over them. It implements core.Module and related
// lifecycle interfaces.
type Module struct {
	mu     sync.RWMutex
	config Config
	appCtx *core.AppContext
	logger *slog.Logger
	store  *ConnStore
	memory Memory
	audit  *security.AuditLogger
	now    func() time.Time
	cancel context.CancelFunc
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "hook.websocket",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.store = NewConnStore()
	if m.now == nil {
		m.now = time.Now
	}

	m.redactTokens(ctx, m.config.Tokens)

	ctx.RegisterService(ConnectionsService, m.store)
	ctx.RegisterService(HandlerService, http.HandlerFunc(m.handleWebSocket))
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return validateConfig(m.config)
}

func validateConfig(cfg Config) error {
	if len(cfg.Tokens) == 0 {
		return errors.New("hostlink: at least one token is required")
	}
	for i, t := range cfg.Tokens {
		if len(t) < 16 {
			return fmt.Errorf("hostlink: tokens[%d] must be at least 16 characters", i)
		}
	}
	return nil
}

// Reload implements core.Reloader. Tokens and limits are replaced; open
// connections stay up. A missing module entry keeps the current settings.
func (m *Module) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig(string(m.ModuleInfo().ID))
	if !ok {
		return nil
	}
	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		return fmt.Errorf("hostlink: decoding config: %w", err)
	}
	cfg.defaults()
	if err := validateConfig(cfg); err != nil {
		return err
	}
	m.redactTokens(ctx, cfg.Tokens)

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	m.logger.Info("hostlink: configuration reloaded",
		"tokens", len(cfg.Tokens),
		"max_connections", cfg.MaxConnections,
	)
	return nil
}

func (m *Module) current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

func (m *Module) redactTokens(ctx *core.AppContext, tokens []string) {
	if r, ok := core.ServiceAs[*security.Redactor](ctx, "security.redactor"); ok {
		r.SetLiterals(string(m.ModuleInfo().ID), tokens...)
	}
}

// Start implements core.Starter. It binds the facade and launches the idle
// connection sweeper.
func (m *Module) Start() error {
	mem, ok := core.ServiceAs[Memory](m.appCtx, memoryService)
	if !ok {
		return ErrNoMemory
	}
	m.memory = mem
	if a, ok := core.ServiceAs[*security.AuditLogger](m.appCtx, auditService); ok {
		m.audit = a
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.idleLoop(ctx)

	m.logger.Info("hook module started",
		"max_connections", m.config.MaxConnections,
		"idle_timeout", m.config.IdleTimeout,
	)
	return nil
}

// Stop implements core.Stopper. It cancels background work and closes all
// host connections.
func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.store == nil {
		return nil
	}
	m.store.Range(func(_ string, c *Conn) bool {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return true
	})
	m.logger.Info("hook module stopped")
	return nil
}

// Connections returns the live connection store.
func (m *Module) Connections() *ConnStore { return m.store }

// handleWebSocket runs the connection lifecycle: hello, then the request
// loop until the host disconnects.
func (m *Module) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		m.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusInternalError, "unexpected close")
	}()
	ws.SetReadLimit(int64(m.current().MaxMessageBytes))

	now := m.now()
	c := &Conn{Remote: r.RemoteAddr, ConnectedAt: now, LastSeenAt: now, conn: ws}
	if err := m.handleHello(r.Context(), c); err != nil {
		m.logger.Warn("hook hello failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	m.logger.Info("hook connected", "connection_id", c.ID, "host", c.Host)

	m.readLoop(r.Context(), c)

	m.logger.Info("hook disconnected", "connection_id", c.ID)
	m.emit(security.EventHookDisconnect, c, "")
	m.store.Remove(c.ID)
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

func (m *Module) handleHello(ctx context.Context, c *Conn) error {
	helloCtx, cancel := context.WithTimeout(ctx, helloReadTimeout)
	defer cancel()

	env, err := m.readEnvelope(helloCtx, c.conn)
	if err != nil {
		m.sendError(ctx, c.conn, "", "invalid hello")
		return fmt.Errorf("read hello: %w", err)
	}
	if env.Type != MsgHello {
		m.sendError(ctx, c.conn, env.ID, "expected hello")
		return fmt.Errorf("unexpected message type: %s", env.Type)
	}

	var hello Hello
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		m.sendError(ctx, c.conn, env.ID, "invalid hello payload")
		return fmt.Errorf("unmarshal hello: %w", err)
	}
	if !m.validToken(hello.Token) {
		m.emit(security.EventAuthFailure, c, "hook token")
		m.send(ctx, c.conn, MsgHelloAck, env.ID, HelloAck{Reason: "invalid token"})
		return ErrInvalidToken
	}

	c.ID = uuid.NewString()
	c.Host = hello.Host
	if !m.store.AddIfUnder(c, m.current().MaxConnections) {
		m.send(ctx, c.conn, MsgHelloAck, env.ID, HelloAck{Reason: "maximum number of connections reached"})
		return ErrMaxConnections
	}
	m.emit(security.EventHookConnect, c, "")
	m.send(ctx, c.conn, MsgHelloAck, env.ID, HelloAck{Accepted: true, ConnectionID: c.ID})
	return nil
}

func (m *Module) validToken(token string) bool {
	ok := false
	for _, t := range m.current().Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			ok = true
		}
	}
	return ok
}

// readLoop serves requests in order. A slow pre-turn delays the next request
// of the same host only.
func (m *Module) readLoop(ctx context.Context, c *Conn) {
	for {
		env, err := m.readEnvelope(ctx, c.conn)
		if err != nil {
			if errors.Is(err, errMalformed) {
				m.sendError(ctx, c.conn, "", err.Error())
				continue
			}
			return
		}
		c.touch(m.now())
		m.serve(ctx, c, env)
	}
}

func (m *Module) serve(ctx context.Context, c *Conn, env Envelope) {
	reqCtx, cancel := context.WithTimeout(ctx, m.current().RequestTimeout)
	defer cancel()

	switch env.Type {
	case MsgPing:
		m.send(ctx, c.conn, MsgPong, env.ID, nil)

	case MsgPreTurn:
		var req PreTurnRequest
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				m.sendError(ctx, c.conn, env.ID, "invalid pre_turn payload")
				return
			}
		}
		rep := m.memory.PreTurnReport(reqCtx, req.Message)
		if rep.Assembly != nil && !rep.Assembly.Empty() {
			m.emit(security.EventInjection, c, string(rep.Compaction.Reason))
		}
		m.send(ctx, c.conn, MsgPreTurnResult, env.ID, rep)

	case MsgTick:
		m.send(ctx, c.conn, MsgTickResult, env.ID, m.memory.Tick(reqCtx))

	case MsgStats:
		m.send(ctx, c.conn, MsgStatsResult, env.ID, m.memory.Stats(reqCtx))

	case MsgHealth:
		m.send(ctx, c.conn, MsgHealthResult, env.ID, m.memory.Health(reqCtx))

	default:
		m.logger.Warn("unexpected message type from host", "connection_id", c.ID, "type", env.Type)
		m.sendError(ctx, c.conn, env.ID, "unsupported message type: "+string(env.Type))
	}
}

var errMalformed = errors.New("malformed message")

// readEnvelope reads one message. Decoding failures wrap errMalformed;
// transport failures are returned as is.
func (m *Module) readEnvelope(ctx context.Context, ws *websocket.Conn) (Envelope, error) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	limits := security.PayloadLimits{MaxBytes: m.current().MaxMessageBytes}
	if err := limits.Decode(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errMalformed, err)
	}
	return env, nil
}

func (m *Module) idleLoop(ctx context.Context) {
	ticker := time.NewTicker(max(m.current().IdleTimeout/4, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.closeIdle()
		}
	}
}

// closeIdle closes connections silent for longer than the idle timeout. The
// read loop of each closed connection removes it from the store.
func (m *Module) closeIdle() int {
	now := m.now()
	timeout := m.current().IdleTimeout
	var n int
	m.store.Range(func(_ string, c *Conn) bool {
		c.mu.Lock()
		idle := now.Sub(c.LastSeenAt)
		c.mu.Unlock()
		if idle > timeout {
			m.logger.Warn("hook idle timeout, disconnecting", "connection_id", c.ID, "idle", idle)
			_ = c.conn.Close(websocket.StatusGoingAway, "idle timeout")
			n++
		}
		return true
	})
	return n
}

// send marshals and writes an Envelope to the connection.
func (m *Module) send(ctx context.Context, ws *websocket.Conn, typ MessageType, id string, payload any) {
	env, err := newEnvelope(typ, id, payload)
	if err != nil {
		m.logger.Error("marshal payload failed", "type", typ, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		m.logger.Error("marshal envelope failed", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		m.logger.Warn("write envelope failed", "error", err)
	}
}

func (m *Module) sendError(ctx context.Context, ws *websocket.Conn, id, message string) {
	m.send(ctx, ws, MsgError, id, ErrorPayload{Message: message})
}

func (m *Module) emit(typ security.EventType, c *Conn, detail string) {
	if m.audit == nil {
		return
	}
	m.audit.Log(security.AuditEvent{
		Type:     typ,
		Surface:  security.SurfaceHook,
		Remote:   c.Remote,
		Detail:   detail,
		Metadata: map[string]string{"connection_id": c.ID, "host": c.Host},
	})
}
