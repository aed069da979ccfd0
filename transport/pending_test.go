package transport

import (
	"errors"
	"testing"

	"port-rpc/errs"
	"port-rpc/message"
)

func TestPendingTokensUnique(t *testing.T) {
	p := newPendingTable()
	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		token, _, err := p.add()
		if err != nil {
			t.Fatal(err)
		}
		if token == 0 || seen[token] {
			t.Fatalf("token %d reused or zero", token)
		}
		seen[token] = true
	}
	if p.len() != 100 {
		t.Fatalf("expect 100 entries, got %d", p.len())
	}
}

func TestPendingSkipsLiveTokensOnWrap(t *testing.T) {
	p := newPendingTable()
	live, _, _ := p.add() // token 1 stays live
	p.next = ^uint32(0)   // next add wraps past 0 and 1

	token, _, err := p.add()
	if err != nil {
		t.Fatal(err)
	}
	if token == 0 || token == live {
		t.Fatalf("expect wrap to skip 0 and live token %d, got %d", live, token)
	}
}

func TestPendingResolveOnce(t *testing.T) {
	p := newPendingTable()
	token, slot, _ := p.add()

	if !p.resolve(&message.Message{Kind: message.KindResponse, Token: token}) {
		t.Fatal("expect first resolve to find the entry")
	}
	if p.resolve(&message.Message{Kind: message.KindResponse, Token: token}) {
		t.Fatal("expect second resolve to miss")
	}
	if msg := <-slot; msg.Token != token {
		t.Fatalf("resolved to wrong token %d", msg.Token)
	}
	if p.len() != 0 {
		t.Fatalf("expect empty table, got %d", p.len())
	}
}

func TestPendingCloseAll(t *testing.T) {
	p := newPendingTable()
	const k = 5
	slots := make([]chan *message.Message, 0, k)
	for i := 0; i < k; i++ {
		_, slot, _ := p.add()
		slots = append(slots, slot)
	}

	if n := p.closeAll("test"); n != k {
		t.Fatalf("expect %d rejected, got %d", k, n)
	}
	for _, slot := range slots {
		if err := (<-slot).Err(); !errors.Is(err, errs.ChannelClosed) {
			t.Fatalf("expect ChannelClosed, got %v", err)
		}
	}
	if p.len() != 0 {
		t.Fatalf("expect zero residual entries, got %d", p.len())
	}
	if _, _, err := p.add(); !errors.Is(err, errs.ChannelClosed) {
		t.Fatalf("expect add after close to fail with ChannelClosed, got %v", err)
	}
	if p.closeAll("again") != 0 {
		t.Fatal("expect second closeAll to be a no-op")
	}
}
