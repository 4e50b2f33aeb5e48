package registrytest

import (
	"sync"

	"github.com/google/uuid"
	"github.com/irpekek/broadcast-server/internal/registry"
)

// Peer is an in-memory registry.Peer that records what it was sent. Test use only.
type Peer struct {
	id uuid.UUID

	mu          sync.Mutex
	state       registry.State
	sent        [][]byte
	closeCode   int
	closeReason string
	closeCalls  int
}

func NewPeer() *Peer {
	return &Peer{id: uuid.New(), state: registry.StateOpen}
}

func (p *Peer) ID() uuid.UUID { return p.id }

func (p *Peer) State() registry.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != registry.StateOpen {
		return registry.ErrConnClosed
	}
	p.sent = append(p.sent, data)
	return nil
}

func (p *Peer) Close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	if p.state != registry.StateOpen {
		return
	}
	p.state = registry.StateClosed
	p.closeCode = code
	p.closeReason = reason
}

// SetState forces a liveness state, e.g. to simulate a peer caught mid-close.
func (p *Peer) SetState(state registry.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// Sent returns a copy of every frame delivered so far.
func (p *Peer) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, data := range p.sent {
		out[i] = string(data)
	}
	return out
}

// Closed reports whether Close was called while open, with the code and reason used.
func (p *Peer) Closed() (closed bool, code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls > 0 && p.state == registry.StateClosed, p.closeCode, p.closeReason
}
