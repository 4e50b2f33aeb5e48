package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

var (
	ErrRegistryStopped   = errors.New("registry is stopped")
	ErrRegistrySealed    = errors.New("registry no longer accepts connections")
	ErrAlreadyRegistered = errors.New("connection already registered")
)

// registryCmd is the command interface for the Registry actor.
type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type addCmd struct {
	baseRegistryCmd
	peer         Peer
	errorChannel chan error
}

type removeCmd struct {
	baseRegistryCmd
	id           uuid.UUID
	replyChannel chan bool
}

type forEachCmd struct {
	baseRegistryCmd
	visitor     func(Peer)
	doneChannel chan struct{}
}

type lenCmd struct {
	baseRegistryCmd
	replyChannel chan int
}

type closeAllCmd struct {
	baseRegistryCmd
	code         int
	reason       string
	replyChannel chan int
}

type stopCmd struct {
	baseRegistryCmd
}

// Registry is the set of currently open connections.
// A single goroutine owns the set; every operation is a command processed in order,
// so membership changes and iteration never interleave.
type Registry struct {
	cmdCh       chan registryCmd
	clock       clockwork.Clock
	peers       map[uuid.UUID]Peer
	sealed      bool
	done        chan struct{}
	stopTimeout time.Duration
}

func New(clock clockwork.Clock) *Registry {
	r := &Registry{
		cmdCh:       make(chan registryCmd, 256),
		clock:       clock,
		peers:       make(map[uuid.UUID]Peer),
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
	}
	go r.run()
	return r
}

// Add inserts a newly opened connection. Call it once per connection, on open.
func (r *Registry) Add(peer Peer) error {
	errCh := make(chan error, 1)
	if !r.submit(addCmd{peer: peer, errorChannel: errCh}) {
		return ErrRegistryStopped
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-r.done:
		return ErrRegistryStopped
	case <-timer.Chan():
		return fmt.Errorf("add command timed out after %v", commandTimeout)
	}
}

// Remove drops a connection. Removing an unknown connection is a no-op.
// Reports whether the connection was a member.
func (r *Registry) Remove(peer Peer) bool {
	replyCh := make(chan bool, 1)
	if !r.submit(removeCmd{id: peer.ID(), replyChannel: replyCh}) {
		return false
	}

	select {
	case removed := <-replyCh:
		return removed
	case <-r.done:
		return false
	}
}

// ForEach calls visitor for every open member, in no particular order.
// Members that are closing or closed are skipped. The visitor runs on the registry
// goroutine and must not call back into the Registry.
func (r *Registry) ForEach(visitor func(Peer)) {
	doneCh := make(chan struct{})
	if !r.submit(forEachCmd{visitor: visitor, doneChannel: doneCh}) {
		return
	}

	select {
	case <-doneCh:
	case <-r.done:
	}
}

// Len returns the number of members, or -1 if the registry does not answer in time.
func (r *Registry) Len() int {
	replyCh := make(chan int, 1)
	if !r.submit(lenCmd{replyChannel: replyCh}) {
		return 0
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-replyCh:
		return n
	case <-r.done:
		return 0
	case <-timer.Chan():
		slog.Warn("Registry Len timed out", "timeout", commandTimeout)
		return -1
	}
}

// CloseAll closes every open member, empties the set and refuses later Adds.
// Returns the number of connections that were sent a close.
func (r *Registry) CloseAll(code int, reason string) int {
	replyCh := make(chan int, 1)
	if !r.submit(closeAllCmd{code: code, reason: reason, replyChannel: replyCh}) {
		return 0
	}

	select {
	case n := <-replyCh:
		return n
	case <-r.done:
		return 0
	}
}

// Stop ends the registry goroutine. Members are dropped without being closed;
// call CloseAll first for a graceful sweep.
func (r *Registry) Stop() {
	if !r.submit(stopCmd{}) {
		return
	}

	timeout := r.clock.NewTimer(r.stopTimeout)
	defer timeout.Stop()

	select {
	case <-r.done:
		slog.Debug("Registry stopped")
	case <-timeout.Chan():
		slog.Warn("Registry stop timeout exceeded", "timeout", r.stopTimeout)
	}
}

func (r *Registry) submit(cmd registryCmd) bool {
	select {
	case <-r.done:
		return false
	default:
	}

	select {
	case r.cmdCh <- cmd:
		return true
	case <-r.done:
		return false
	}
}

func (r *Registry) run() {
	defer close(r.done)

	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case addCmd:
			c.errorChannel <- r.handleAdd(c.peer)
		case removeCmd:
			c.replyChannel <- r.handleRemove(c.id)
		case forEachCmd:
			r.handleForEach(c.visitor)
			close(c.doneChannel)
		case lenCmd:
			c.replyChannel <- len(r.peers)
		case closeAllCmd:
			c.replyChannel <- r.handleCloseAll(c.code, c.reason)
		case stopCmd:
			slog.Debug("Registry shutting down", "connections", len(r.peers))
			clear(r.peers)
			return
		default:
			slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (r *Registry) handleAdd(peer Peer) error {
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, exists := r.peers[peer.ID()]; exists {
		return ErrAlreadyRegistered
	}
	r.peers[peer.ID()] = peer
	slog.Debug("Connection registered", "connection_id", peer.ID().String(), "total_connections", len(r.peers))
	return nil
}

func (r *Registry) handleRemove(id uuid.UUID) bool {
	if _, exists := r.peers[id]; !exists {
		return false
	}
	delete(r.peers, id)
	slog.Debug("Connection unregistered", "connection_id", id.String(), "remaining_connections", len(r.peers))
	return true
}

func (r *Registry) handleForEach(visitor func(Peer)) {
	for _, peer := range r.peers {
		if peer.State() != StateOpen {
			continue
		}
		r.visit(visitor, peer)
	}
}

// visit isolates a panicking visitor so the remaining members are still visited.
func (r *Registry) visit(visitor func(Peer), peer Peer) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Registry visitor panic recovered", "connection_id", peer.ID().String(), "panic", rec)
		}
	}()
	visitor(peer)
}

func (r *Registry) handleCloseAll(code int, reason string) int {
	r.sealed = true

	closed := 0
	for id, peer := range r.peers {
		if peer.State() == StateOpen {
			peer.Close(code, reason)
			closed++
		}
		delete(r.peers, id)
	}
	slog.Info("Registry closed all connections", "closed_connections", closed)
	return closed
}
