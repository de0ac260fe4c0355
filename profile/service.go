package profile

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// The profile service exchanges CBOR messages instead of protobuf ones, so
// that Snapshot travels as is. Clients select the codec by content subtype.
const codecName = "cbor"

type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error)      { return cbor.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }
func (cborCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(cborCodec{})
}

const serviceName = "kahlua.profile.Profiler"

// SnapshotRequest asks for the current profile.
type SnapshotRequest struct {
	Top   int  `cbor:"1,keyasint,omitempty"` // 0 for everything
	Reset bool `cbor:"2,keyasint,omitempty"` // clear the counts after reading
}

// WatchRequest asks for a snapshot every Interval.
type WatchRequest struct {
	Top      int           `cbor:"1,keyasint,omitempty"`
	Interval time.Duration `cbor:"2,keyasint"`
}

// ProfilerServer is the server side of the profile service.
type ProfilerServer interface {
	Snapshot(context.Context, *SnapshotRequest) (*Snapshot, error)
	Watch(*WatchRequest, grpc.ServerStream) error
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProfilerServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Snapshot"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProfilerServer).Snapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ProfilerServer).Watch(in, stream)
}

var profilerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ProfilerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "kahlua/profile",
}

// Server publishes an Aggregator over gRPC.
type Server struct {
	agg  *Aggregator
	grpc *grpc.Server
	log  commonlog.Logger
}

// NewServer creates a server for agg.
func NewServer(agg *Aggregator, opts ...grpc.ServerOption) *Server {
	s := &Server{
		agg:  agg,
		grpc: grpc.NewServer(opts...),
		log:  commonlog.GetLogger("kahlua.profile"),
	}
	s.grpc.RegisterService(&profilerServiceDesc, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Infof("serving profile on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop closes the listeners and cancels running calls, Watch streams
// included.
func (s *Server) Stop() {
	s.grpc.Stop()
}

func (s *Server) Snapshot(ctx context.Context, req *SnapshotRequest) (*Snapshot, error) {
	if req.Top < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "negative top %d", req.Top)
	}
	snap := s.agg.Snapshot(req.Top)
	if req.Reset {
		s.agg.Reset()
	}
	return &snap, nil
}

func (s *Server) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	if req.Interval <= 0 {
		return status.Errorf(codes.InvalidArgument, "interval must be positive, got %s", req.Interval)
	}
	if req.Top < 0 {
		return status.Errorf(codes.InvalidArgument, "negative top %d", req.Top)
	}
	ticker := time.NewTicker(req.Interval)
	defer ticker.Stop()
	for {
		snap := s.agg.Snapshot(req.Top)
		if err := stream.SendMsg(&snap); err != nil {
			return err
		}
		select {
		case <-stream.Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Client talks to a profile Server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a profile server at target. Without options the
// connection is plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Snapshot fetches the server's profile.
func (c *Client) Snapshot(ctx context.Context, req *SnapshotRequest) (*Snapshot, error) {
	out := new(Snapshot)
	if err := c.conn.Invoke(ctx, "/"+serviceName+"/Snapshot", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch calls fn with every snapshot the server streams until ctx is done
// or fn returns an error.
func (c *Client) Watch(ctx context.Context, req *WatchRequest, fn func(*Snapshot) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := c.conn.NewStream(ctx, &profilerServiceDesc.Streams[0], "/"+serviceName+"/Watch")
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		snap := new(Snapshot)
		if err := stream.RecvMsg(snap); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}
