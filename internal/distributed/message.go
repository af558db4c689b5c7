// Package distributed runs evaluations on worker ranks over a
// message-passing communicator. Rank 0 is the master; it scatters
// candidates round-robin and gathers results. Workers loop until they
// receive the poison message.
package distributed

import (
	"context"
	"errors"
	"fmt"
)

// Tag identifies the direction of a message
type Tag int

const (
	// TagCandidateOut carries a candidate (or poison) from master to worker
	TagCandidateOut Tag = iota + 1
	// TagResultIn carries a result from worker to master
	TagResultIn
)

func (t Tag) String() string {
	switch t {
	case TagCandidateOut:
		return "candidate_out"
	case TagResultIn:
		return "result_in"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// MasterRank is the rank of the process that runs the solver
const MasterRank = 0

// Message is the unit exchanged between ranks
type Message struct {
	Tag    Tag
	Source int

	CandidateID string
	Names       []string
	Values      []any

	Loss   float64
	Status string
	Error  string

	// Poison tells a worker to exit
	Poison bool
}

// Communicator moves messages between ranks
type Communicator interface {
	Rank() int
	Size() int
	Send(ctx context.Context, to int, m Message) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// ErrClosed is returned by a communicator after Close
var ErrClosed = errors.New("communicator closed")

// TransportError is a fatal communication failure with a rank
type TransportError struct {
	Rank int
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s with rank %d: %v", e.Op, e.Rank, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
