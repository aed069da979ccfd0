package transport

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"port-rpc/codec"
	"port-rpc/errs"
	"port-rpc/message"
)

// ClientTransport lets many concurrent calls share a single channel.
//
// Each call gets a fresh correlation token and a slot in the pending table; a background
// goroutine (recvLoop) reads every response and routes it to the slot with the same token.
//
//	goroutine-1 ──Send(token=1)──┐
//	goroutine-2 ──Send(token=2)──┼──→ one channel ──→ host
//	goroutine-3 ──Send(token=3)──┘
//
//	recvLoop:  ←── response(token=2) → pending[2] → goroutine-2 wakes up
//
// When the channel closes, every slot still in the table is rejected with ChannelClosed
// and later Sends fail immediately.
type ClientTransport struct {
	ch      Channel
	codec   codec.CodecType
	pending *pendingTable
	logger  *zap.Logger
}

// NewClientTransport starts the receive loop on ch and, when heartbeat > 0, a heartbeat
// loop that keeps idle channels from being reaped by intermediaries.
func NewClientTransport(ch Channel, ct codec.CodecType, heartbeat time.Duration, logger *zap.Logger) *ClientTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &ClientTransport{
		ch:      ch,
		codec:   ct,
		pending: newPendingTable(),
		logger:  logger.With(zap.String("channel", ch.Name()), zap.String("channel_id", ch.ID())),
	}
	ch.MarkOpen()
	go t.recvLoop()
	if heartbeat > 0 {
		go t.heartbeatLoop(heartbeat)
	}
	return t
}

// Send frames a call and returns its token and the slot its outcome will arrive on.
// The slot receives exactly one message: the response, an error response, or a
// ChannelClosed rejection.
func (t *ClientTransport) Send(procedure string, args any) (uint32, <-chan *message.Message, error) {
	token, slot, err := t.pending.add()
	if err != nil {
		return 0, nil, err
	}

	frame, err := codec.EncodeCall(t.codec, procedure, token, args)
	if err != nil {
		t.pending.remove(token)
		return 0, nil, err
	}
	if err := t.ch.WriteFrame(frame); err != nil {
		t.pending.remove(token)
		t.shutdown("write failed: " + err.Error())
		return 0, nil, errs.ChannelClosed.Print(err.Error())
	}
	return token, slot, nil
}

// Abandon removes a call whose caller stopped waiting. A response that still arrives for
// the token is discarded.
func (t *ClientTransport) Abandon(token uint32) {
	t.pending.remove(token)
}

// Pending returns the number of calls awaiting a response.
func (t *ClientTransport) Pending() int {
	return t.pending.len()
}

// Done is closed once the underlying channel has closed.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.ch.Done()
}

// Close closes the channel and rejects all pending calls with ChannelClosed.
func (t *ClientTransport) Close() error {
	err := t.ch.Close()
	t.pending.closeAll("closed by client")
	return err
}

func (t *ClientTransport) recvLoop() {
	for {
		frame, err := t.ch.ReadFrame()
		if err != nil {
			t.shutdown(err.Error())
			return
		}

		msg, err := codec.Decode(frame)
		if err != nil {
			if !errors.Is(err, codec.ErrControlFrame) {
				t.logger.Warn("dropping undecodable frame", zap.Error(err))
			}
			continue
		}
		if msg.Kind == message.KindCall {
			t.logger.Warn("dropping call frame sent to client", zap.String("procedure", msg.Procedure))
			continue
		}
		if !t.pending.resolve(msg) {
			t.logger.Debug("response for unknown token", zap.Uint32("token", msg.Token))
		}
	}
}

func (t *ClientTransport) shutdown(reason string) {
	t.ch.Close()
	if n := t.pending.closeAll(reason); n > 0 {
		t.logger.Info("channel closed with pending calls", zap.Int("rejected", n), zap.String("reason", reason))
	}
}

func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	frame := codec.EncodeHeartbeat()
	for {
		select {
		case <-t.ch.Done():
			return
		case <-ticker.C:
			if err := t.ch.WriteFrame(frame); err != nil {
				return
			}
		}
	}
}
