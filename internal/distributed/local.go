package distributed

import (
	"context"
	"fmt"
	"sync"
)

const localInbox = 256

// localPeer is one rank of an in-process group
type localPeer struct {
	rank  int
	group []*localPeer
	inbox chan Message
	done  chan struct{}
	once  sync.Once
}

// NewLocalGroup returns n communicators wired to each other through
// channels. Element i has rank i.
func NewLocalGroup(n int) ([]Communicator, error) {
	if n < 2 {
		return nil, fmt.Errorf("a group needs at least 2 ranks, got %d", n)
	}
	peers := make([]*localPeer, n)
	for i := range peers {
		peers[i] = &localPeer{rank: i, inbox: make(chan Message, localInbox), done: make(chan struct{})}
	}
	out := make([]Communicator, n)
	for i, p := range peers {
		p.group = peers
		out[i] = p
	}
	return out, nil
}

func (p *localPeer) Rank() int { return p.rank }
func (p *localPeer) Size() int { return len(p.group) }

func (p *localPeer) Send(ctx context.Context, to int, m Message) error {
	if to < 0 || to >= len(p.group) {
		return fmt.Errorf("rank %d out of range [0, %d)", to, len(p.group))
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	dst := p.group[to]
	m.Source = p.rank
	select {
	case <-dst.done:
		return fmt.Errorf("rank %d: %w", to, ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	case dst.inbox <- m:
		return nil
	}
}

func (p *localPeer) Recv(ctx context.Context) (Message, error) {
	select {
	case m := <-p.inbox:
		return m, nil
	case <-p.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *localPeer) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
