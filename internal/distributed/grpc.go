package distributed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

const (
	serviceName    = "hyperopt.distributed.v1.Worker"
	exchangeMethod = "/" + serviceName + "/Exchange"

	rankHeader = "x-hyperopt-rank"
	sizeHeader = "x-hyperopt-size"

	masterInbox = 1024
	closeGrace  = 2 * time.Second
)

// exchanger is the server side of the Worker service
type exchanger interface {
	Exchange(stream grpc.ServerStream) error
}

var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*exchanger)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Exchange",
		Handler:       exchangeHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "hyperopt/distributed/v1/worker.proto",
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(exchanger).Exchange(stream)
}

// WorkerServer serves the worker loop over gRPC. Each master stream gets
// its own loop; the evaluator is set up once for the server's lifetime.
type WorkerServer struct {
	ev   PointEvaluator
	log  *slog.Logger
	opts []WorkerOption
}

// NewWorkerServer creates a server evaluating with ev
func NewWorkerServer(ev PointEvaluator, log *slog.Logger, opts ...WorkerOption) *WorkerServer {
	if se, ok := ev.(SetupEvaluator); ok {
		ev = &setupOnce{SetupEvaluator: se}
	}
	return &WorkerServer{ev: ev, log: logger.Or(log), opts: opts}
}

// Register adds the Worker service to gs
func (s *WorkerServer) Register(gs *grpc.Server) {
	gs.RegisterService(&workerServiceDesc, s)
}

// Exchange runs the worker loop until the master sends poison or hangs up
func (s *WorkerServer) Exchange(stream grpc.ServerStream) error {
	rank, size := 1, 2
	if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
		if v := md.Get(rankHeader); len(v) > 0 {
			rank, _ = strconv.Atoi(v[0])
		}
		if v := md.Get(sizeHeader); len(v) > 0 {
			size, _ = strconv.Atoi(v[0])
		}
	}
	if rank <= MasterRank {
		return status.Error(codes.InvalidArgument, "worker rank must be positive")
	}

	s.log.Info("master connected", "rank", rank, "size", size)
	err := RunWorker(stream.Context(), &serverComm{stream: stream, rank: rank, size: size}, s.ev, s.log, s.opts...)
	if err == nil {
		return nil
	}
	cause := errors.Unwrap(err)
	if isHangup(cause) {
		s.log.Info("master went away", "rank", rank)
		return nil
	}
	if st, ok := status.FromError(cause); ok {
		return st.Err()
	}
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return status.FromContextError(cause).Err()
	}
	return status.Error(codes.Unavailable, err.Error())
}

// serverComm adapts one server stream to the Communicator interface. It
// only talks to the master.
type serverComm struct {
	stream grpc.ServerStream
	rank   int
	size   int
}

func (c *serverComm) Rank() int { return c.rank }
func (c *serverComm) Size() int { return c.size }

func (c *serverComm) Send(_ context.Context, to int, m Message) error {
	if to != MasterRank {
		return fmt.Errorf("worker can only reply to rank %d, got %d", MasterRank, to)
	}
	m.Source = c.rank
	msg, err := encodeMessage(m)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return c.stream.SendMsg(msg)
}

func (c *serverComm) Recv(context.Context) (Message, error) {
	msg := new(structpb.Struct)
	if err := c.stream.RecvMsg(msg); err != nil {
		return Message{}, err
	}
	m, err := decodeMessage(msg)
	if err != nil {
		return Message{}, status.Error(codes.InvalidArgument, err.Error())
	}
	m.Source = MasterRank
	return m, nil
}

func (c *serverComm) Close() error { return nil }

// DialOption configures DialWorkers
type DialOption func(*dialConfig)

type dialConfig struct {
	grpcOpts []grpc.DialOption
	attempts int
	backoff  utils.Backoff
	log      *slog.Logger
}

// WithGRPCOptions replaces the default insecure transport options
func WithGRPCOptions(opts ...grpc.DialOption) DialOption {
	return func(c *dialConfig) { c.grpcOpts = opts }
}

// WithRetry sets how stream setup is retried per worker
func WithRetry(attempts int, b utils.Backoff) DialOption {
	return func(c *dialConfig) {
		c.attempts = attempts
		c.backoff = b
	}
}

// WithDialLogger sets the logger
func WithDialLogger(l *slog.Logger) DialOption {
	return func(c *dialConfig) { c.log = l }
}

// DialWorkers opens one Exchange stream per address and returns the
// master communicator. Workers are ranked 1..len(addrs) in address order.
func DialWorkers(ctx context.Context, addrs []string, opts ...DialOption) (Communicator, error) {
	if len(addrs) == 0 {
		return nil, errors.New("at least one worker address is required")
	}
	b, _ := utils.ParseBackoff("exponential", 100*time.Millisecond, 2*time.Second)
	cfg := dialConfig{
		grpcOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		attempts: 5,
		backoff:  b,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.log = logger.Or(cfg.log)

	// streams outlive the dial context and end on Close
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	mc := &masterComm{
		size:   len(addrs) + 1,
		inbox:  make(chan recvResult, masterInbox),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	for i, addr := range addrs {
		rank := i + 1
		conn, err := grpc.NewClient(addr, cfg.grpcOpts...)
		if err != nil {
			mc.Close()
			return nil, &TransportError{Rank: rank, Op: "dial", Err: err}
		}
		mc.conns = append(mc.conns, conn)

		md := metadata.Pairs(rankHeader, strconv.Itoa(rank), sizeHeader, strconv.Itoa(mc.size))
		var stream grpc.ClientStream
		err = utils.Retry(ctx, cfg.attempts, cfg.backoff, func(attempt int) error {
			var err error
			stream, err = conn.NewStream(metadata.NewOutgoingContext(streamCtx, md), &workerServiceDesc.Streams[0], exchangeMethod)
			if err != nil {
				cfg.log.Warn("worker not ready", "addr", addr, "attempt", attempt, "code", status.Code(err).String())
			}
			return err
		})
		if err != nil {
			mc.Close()
			return nil, &TransportError{Rank: rank, Op: "dial", Err: err}
		}
		mc.streams = append(mc.streams, &clientStream{ClientStream: stream})
		cfg.log.Info("worker connected", "addr", addr, "rank", rank)
	}

	for i, s := range mc.streams {
		mc.readers.Add(1)
		go mc.read(i+1, s)
	}
	return mc, nil
}

type recvResult struct {
	m   Message
	err error
}

type clientStream struct {
	grpc.ClientStream
	mu sync.Mutex
}

// masterComm is rank 0 over one client stream per worker
type masterComm struct {
	size    int
	conns   []*grpc.ClientConn
	streams []*clientStream
	inbox   chan recvResult
	done    chan struct{}
	cancel  context.CancelFunc
	readers sync.WaitGroup
	once    sync.Once
}

func (c *masterComm) Rank() int { return MasterRank }
func (c *masterComm) Size() int { return c.size }

func (c *masterComm) read(rank int, s *clientStream) {
	defer c.readers.Done()
	for {
		msg := new(structpb.Struct)
		err := s.RecvMsg(msg)
		var r recvResult
		if err != nil {
			r = recvResult{m: Message{Source: rank}, err: err}
		} else if m, derr := decodeMessage(msg); derr != nil {
			r = recvResult{m: Message{Source: rank}, err: derr}
		} else {
			m.Source = rank
			r = recvResult{m: m}
		}
		select {
		case c.inbox <- r:
		case <-c.done:
			return
		}
		if r.err != nil {
			return
		}
	}
}

func (c *masterComm) Send(ctx context.Context, to int, m Message) error {
	if to < 1 || to >= c.size {
		return fmt.Errorf("rank %d out of range [1, %d)", to, c.size)
	}
	select {
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	m.Source = MasterRank
	msg, err := encodeMessage(m)
	if err != nil {
		return err
	}
	s := c.streams[to-1]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SendMsg(msg)
}

func (c *masterComm) Recv(ctx context.Context) (Message, error) {
	select {
	case r := <-c.inbox:
		return r.m, r.err
	case <-c.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close half-closes every stream, gives workers a moment to finish, then
// tears the connections down
func (c *masterComm) Close() error {
	c.once.Do(func() {
		for _, s := range c.streams {
			s.mu.Lock()
			_ = s.CloseSend()
			s.mu.Unlock()
		}
		finished := make(chan struct{})
		go func() {
			c.readers.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(closeGrace):
		}
		close(c.done)
		c.cancel()
		for _, conn := range c.conns {
			_ = conn.Close()
		}
	})
	return nil
}

// isHangup reports whether err is the normal end of a stream
func isHangup(err error) bool {
	return errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled
}
