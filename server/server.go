// Package server implements the host side of port-rpc: the channel authentication gate and
// the per-channel message pump bound to the procedure registry.
//
// Request processing pipeline:
//
//	OnConnectionAttempt(ch) → name check → identity check → serveChannel (single reader)
//	  → codec.Decode → callQueue (FIFO) → work (single worker per channel, arrival order)
//	    → middleware chain → procedure.Registry.Dispatch → codec.Encode → write
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"port-rpc/codec"
	"port-rpc/discovery"
	"port-rpc/errs"
	"port-rpc/message"
	"port-rpc/metrics"
	"port-rpc/middleware"
	"port-rpc/procedure"
	"port-rpc/protocol"
	"port-rpc/transport"
)

// Service is a procedure group that binds its handlers to a registry.
type Service interface {
	Register(reg *procedure.Registry) error
}

// Server is the long-lived host. It owns the procedure registry and every service state
// reachable through it.
type Server struct {
	channelName string // the only channel name this host claims
	identity    string // runtime identity peers must present
	hostID      string // advertisement id in discovery

	procs       *procedure.Registry
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	buildOnce   sync.Once

	logger           *zap.Logger
	metrics          *metrics.Host
	handshakeTimeout time.Duration
	upgrader         *websocket.Upgrader

	discovery     discovery.Registry
	advertise     discovery.Instance
	advertiseTTL  int64
	advertisedMu  sync.Mutex
	advertisedYet bool

	mu        sync.Mutex
	listeners []net.Listener
	channels  map[transport.Channel]struct{}
	wg        sync.WaitGroup // channel workers
	shutdown  atomic.Bool
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithMetrics(m *metrics.Host) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHandshakeTimeout bounds how long an accepted stream may take to send its hello.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) { s.handshakeTimeout = d }
}

// WithDiscovery advertises the host in reg once it starts serving. Empty fields of
// instance are filled from the listener.
func WithDiscovery(reg discovery.Registry, instance discovery.Instance, ttl int64) Option {
	return func(s *Server) {
		s.discovery = reg
		s.advertise = instance
		s.advertiseTTL = ttl
	}
}

// NewServer creates a host that claims channels named channelName and accepts peers whose
// identity equals identity. An empty identity gets a random one.
func NewServer(channelName, identity string, opts ...Option) *Server {
	if identity == "" {
		identity = uuid.NewString()
	}
	s := &Server{
		channelName:      channelName,
		identity:         identity,
		hostID:           uuid.NewString(),
		channels:         make(map[transport.Channel]struct{}),
		handshakeTimeout: 10 * time.Second,
		advertiseTTL:     10,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewHost(nil)
	}
	s.upgrader = &websocket.Upgrader{
		// Origin is not an identity; the sender header is checked by the gate.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	s.procs = procedure.NewRegistry(s.logger.Named("procedure"))
	return s
}

// Identity returns the runtime identity peers must present.
func (s *Server) Identity() string {
	return s.identity
}

// Procedures exposes the registry, e.g. to register handlers directly.
func (s *Server) Procedures() *procedure.Registry {
	return s.procs
}

// Register binds a service's procedures. Must be called before serving.
func (s *Server) Register(svc Service) error {
	return svc.Register(s.procs)
}

// Use registers a middleware. Middlewares apply in the order they are added and must be
// added before the first channel is accepted.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

func (s *Server) buildHandler() {
	s.buildOnce.Do(func() {
		s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)
	})
}

// OnConnectionAttempt decides whether this host claims ch and, if so, starts serving it.
//
// A channel with another name is left untouched so other listeners may claim it. A channel
// whose peer identity differs from the host's is logged once and closed before any frame is
// read. It reports whether the channel was accepted.
func (s *Server) OnConnectionAttempt(ch transport.Channel) bool {
	if ch.Name() != s.channelName {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(ch.PeerID()), []byte(s.identity)) != 1 {
		s.logger.Warn("rejected channel",
			zap.String("channel", ch.Name()),
			zap.String("sender", ch.PeerID()),
			zap.String("channel_id", ch.ID()),
			zap.Stringer("kind", errs.KindUnauthorized))
		s.metrics.ChannelsRefused.WithLabelValues("identity").Inc()
		ch.Close()
		return false
	}

	s.buildHandler()
	if !s.open(ch) {
		ch.Close()
		return false
	}
	go s.serveChannel(ch)
	return true
}

// open registers ch and reserves its worker in wg. Shutdown flips the flag under the same
// lock before it waits, so no worker is added once the wait has begun.
func (s *Server) open(ch transport.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	ch.MarkOpen()
	s.channels[ch] = struct{}{}
	s.metrics.ChannelsOpen.Inc()
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(ch transport.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[ch]; ok {
		delete(s.channels, ch)
		s.metrics.ChannelsOpen.Dec()
	}
}

// serveChannel is the message pump of one channel. Frames are read by this goroutine alone
// and calls are handed to a single worker, so they run one at a time in arrival order. Each
// channel has its own pump and worker; a slow handler holds up only its own channel.
func (s *Server) serveChannel(ch transport.Channel) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := s.logger.With(zap.String("channel_id", ch.ID()))
	queue := newCallQueue()
	go s.work(ctx, ch, queue)
	defer func() {
		cancel() // the running handler sees ctx.Done; it and the queued calls get no reply
		ch.Close()
		s.untrack(ch)
		logger.Debug("channel closed")
	}()
	logger.Debug("channel open", zap.String("channel", ch.Name()))

	for {
		frame, err := ch.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrCorruptStream) {
				logger.Warn("closing desynchronized channel", zap.Error(err))
			}
			return
		}

		msg, err := codec.Decode(frame)
		if err != nil {
			if errors.Is(err, codec.ErrControlFrame) {
				continue
			}
			s.metrics.FramesDropped.Inc()
			logger.Warn("dropping frame", zap.Stringer("kind", errs.KindSerializationError), zap.Error(err))
			continue
		}
		if msg.Kind != message.KindCall {
			s.metrics.FramesDropped.Inc()
			logger.Warn("dropping non-call frame", zap.Stringer("message_kind", msg.Kind), zap.Uint32("token", msg.Token))
			continue
		}

		queue.push(queuedCall{codec: codec.TypeOf(frame), msg: msg})
	}
}

// work runs the calls of one channel in order until the channel closes.
func (s *Server) work(ctx context.Context, ch transport.Channel, queue *callQueue) {
	defer s.wg.Done()
	for {
		call, ok := queue.pop(ctx)
		if !ok {
			return
		}
		s.handleCall(ctx, ch, call.codec, call.msg)
	}
}

// handleCall produces exactly one reply for call, whatever the handler chain does.
func (s *Server) handleCall(ctx context.Context, ch transport.Channel, ct codec.CodecType, call *message.Message) {
	result, err := s.invoke(ctx, call)

	var reply []byte
	if err == nil {
		reply, err = codec.EncodeResponse(ct, call.Token, result)
	}
	if err != nil {
		var encErr error
		reply, encErr = codec.EncodeError(ct, call.Token, err)
		if encErr != nil {
			s.logger.Error("cannot encode error reply", zap.Uint32("token", call.Token), zap.Error(encErr))
			return
		}
	}

	if ctx.Err() != nil {
		return // channel closed while the handler ran
	}
	if werr := ch.WriteFrame(reply); werr != nil {
		s.logger.Debug("reply not delivered", zap.String("channel_id", ch.ID()), zap.Uint32("token", call.Token), zap.Error(werr))
	}
}

// invoke runs the middleware chain, turning a panic anywhere in it into HandlerError.
func (s *Server) invoke(ctx context.Context, call *message.Message) (result json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("middleware panicked", zap.String("procedure", call.Procedure), zap.Any("panic", p))
			result, err = nil, errs.HandlerError.Printf("%s: panic: %v", call.Procedure, p)
		}
	}()
	return s.handler(ctx, call)
}

// businessHandler is the end of the middleware chain.
func (s *Server) businessHandler(ctx context.Context, call *message.Message) (json.RawMessage, error) {
	return s.procs.Dispatch(ctx, call.Procedure, call.Payload)
}

// Serve listens on network/address and serves stream channels until Shutdown.
func (s *Server) Serve(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(ln)
}

// ServeListener accepts stream channels on ln. Each accepted conn must open with a hello
// frame; the channel it announces then goes through OnConnectionAttempt. A conn this host
// does not claim is closed, since nothing else reads from this listener.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	if err := s.advertiseEndpoint(discovery.Instance{Addr: ln.Addr().String(), Transport: "tcp"}); err != nil {
		s.logger.Warn("advertise failed", zap.Error(err))
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.acceptStream(conn)
	}
}

func (s *Server) acceptStream(conn net.Conn) {
	ch, err := transport.AcceptStream(conn, s.handshakeTimeout)
	if err != nil {
		s.logger.Debug("handshake failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		conn.Close()
		return
	}
	if !s.OnConnectionAttempt(ch) {
		ch.Close()
	}
}

// WebSocketHandler serves channels over WebSocket. The channel name is the last path
// element, e.g. /rpc/port-rpc.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shutdown.Load() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		ch, err := transport.UpgradeWebSocket(s.upgrader, w, r)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		if !s.OnConnectionAttempt(ch) {
			ch.Close()
		}
	})
}

// AdvertiseWebSocket records the WebSocket base URL in discovery.
func (s *Server) AdvertiseWebSocket(baseURL string) error {
	return s.advertiseEndpoint(discovery.Instance{WSURL: baseURL, Transport: "ws"})
}

func (s *Server) advertiseEndpoint(local discovery.Instance) error {
	if s.discovery == nil {
		return nil
	}
	s.advertisedMu.Lock()
	defer s.advertisedMu.Unlock()

	inst := s.advertise
	inst.HostID = s.hostID
	if inst.Addr == "" {
		inst.Addr = local.Addr
	}
	if inst.WSURL == "" {
		inst.WSURL = local.WSURL
	}
	if inst.Transport == "" {
		inst.Transport = local.Transport
	}
	if err := s.discovery.Register(s.channelName, inst, s.advertiseTTL); err != nil {
		return fmt.Errorf("server: advertise %s: %w", s.channelName, err)
	}
	s.advertise = inst
	s.advertisedYet = true
	return nil
}

// Addr returns the address of the first stream listener, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

// Shutdown performs graceful shutdown:
//  1. Withdraw the discovery advertisement so no new client resolves this host
//  2. Set the shutdown flag so Accept errors are recognized as intentional
//  3. Close listeners and every open channel (pending client calls fail with ChannelClosed)
//  4. Wait for every channel worker to finish its running handler, up to timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	s.advertisedMu.Lock()
	if s.discovery != nil && s.advertisedYet {
		if err := s.discovery.Deregister(s.channelName, s.hostID); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
		s.advertisedYet = false
	}
	s.advertisedMu.Unlock()

	s.mu.Lock()
	s.shutdown.Store(true)
	for _, ln := range s.listeners {
		ln.Close()
	}
	for ch := range s.channels {
		ch.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing calls to finish")
	}
}
