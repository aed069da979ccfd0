package transport

import (
	"sync"

	"port-rpc/errs"
	"port-rpc/message"
)

// pendingTable maps correlation tokens to the callers waiting on them.
//
// Each resolver is a channel with room for exactly one message, so resolving never blocks.
// An entry leaves the table exactly once: on its response, on abandonment, or in closeAll.
type pendingTable struct {
	mu     sync.Mutex
	next   uint32
	calls  map[uint32]chan *message.Message
	closed bool
	reason string
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint32]chan *message.Message)}
}

// add allocates a fresh token and its resolver. Tokens skip 0 and any value still live.
func (p *pendingTable) add() (uint32, chan *message.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, nil, errs.ChannelClosed.Print(p.reason)
	}
	for {
		p.next++
		if _, live := p.calls[p.next]; p.next != 0 && !live {
			break
		}
	}
	ch := make(chan *message.Message, 1)
	p.calls[p.next] = ch
	return p.next, ch, nil
}

// resolve hands msg to the caller waiting on its token. Unknown tokens are ignored.
func (p *pendingTable) resolve(msg *message.Message) bool {
	p.mu.Lock()
	ch, ok := p.calls[msg.Token]
	if ok {
		delete(p.calls, msg.Token)
	}
	p.mu.Unlock()
	if ok {
		ch <- msg
	}
	return ok
}

// remove drops a token whose caller stopped waiting.
func (p *pendingTable) remove(token uint32) {
	p.mu.Lock()
	delete(p.calls, token)
	p.mu.Unlock()
}

// closeAll rejects every live entry with ChannelClosed and refuses new ones.
// It returns the number of entries rejected.
func (p *pendingTable) closeAll(reason string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	p.closed = true
	p.reason = reason
	n := len(p.calls)
	for token, ch := range p.calls {
		ch <- &message.Message{
			Kind:      message.KindError,
			Token:     token,
			ErrorKind: errs.KindChannelClosed,
			Error:     errs.ChannelClosed.Print(reason).Error(),
		}
	}
	clear(p.calls)
	return n
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
