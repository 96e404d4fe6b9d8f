package session

import (
	"sync"

	"github.com/codexola/codexola/internal/proto"
)

// pendingTable correlates outgoing request ids with the goroutines waiting
// on their responses. Each slot is a buffered channel of capacity one so a
// fulfilling reader never blocks on a slow waiter.
type pendingTable struct {
	mu    sync.Mutex
	slots map[uint64]chan proto.Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[uint64]chan proto.Message)}
}

// add registers a waiter for the given id and returns the channel the
// response will be delivered on.
func (p *pendingTable) add(id uint64) chan proto.Message {
	ch := make(chan proto.Message, 1)
	p.mu.Lock()
	p.slots[id] = ch
	p.mu.Unlock()
	return ch
}

// fulfill delivers a response to the waiter registered for its id and
// removes the slot. A response with no registered waiter is reported via
// the false return; duplicate responses for the same id are dropped.
func (p *pendingTable) fulfill(msg proto.Message) bool {
	if msg.ID == nil {
		return false
	}
	p.mu.Lock()
	ch, ok := p.slots[*msg.ID]
	if ok {
		delete(p.slots, *msg.ID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	close(ch)
	return true
}

// remove drops a waiter without delivering anything. Used when the caller
// gives up on a request before its response arrives.
func (p *pendingTable) remove(id uint64) {
	p.mu.Lock()
	delete(p.slots, id)
	p.mu.Unlock()
}

// drain closes every outstanding slot, waking all waiters with a zero
// message. Called exactly once during session teardown.
func (p *pendingTable) drain() {
	p.mu.Lock()
	slots := p.slots
	p.slots = make(map[uint64]chan proto.Message)
	p.mu.Unlock()
	for _, ch := range slots {
		close(ch)
	}
}
