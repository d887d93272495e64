// Package grpc exposes client classification as a gRPC service.
//
// The service uses protobuf well-known types only, so its descriptor is
// declared here instead of generated:
//
//	service ClassifyService {
//	  rpc ClassifyClient(google.protobuf.Empty) returns (google.protobuf.Struct);
//	}
package grpc

import (
	"context"
	"encoding/json"
	"net/netip"

	"github.com/TomasB/classify/internal/app"
	"github.com/TomasB/classify/internal/classify"
	"github.com/TomasB/classify/internal/proxy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names.
const (
	ServiceName          = "classify.v1.ClassifyService"
	ClassifyClientMethod = "/" + ServiceName + "/ClassifyClient"
)

// Metadata keys read from incoming calls.
const (
	MetadataForwardedFor = "x-forwarded-for"
	MetadataDNT          = "dnt"
)

// ClassifyServer is the server API for ClassifyService.
type ClassifyServer interface {
	ClassifyClient(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// Handler implements ClassifyServer.
type Handler struct {
	state *app.State
}

// NewHandler creates a new gRPC handler over the shared application state.
func NewHandler(state *app.State) *Handler {
	return &Handler{state: state}
}

// Register attaches the service to s.
func Register(s grpc.ServiceRegistrar, srv ClassifyServer) {
	s.RegisterService(&serviceDesc, srv)
}

// ClassifyClient attributes the calling client and returns the classification
// payload as a Struct with the same fields as the HTTP endpoint.
func (h *Handler) ClassifyClient(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if h.state == nil {
		return nil, status.Error(codes.Internal, "service misconfigured")
	}

	var chain []string
	var dnt *bool
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		chain = proxy.ParseChain(md.Get(MetadataForwardedFor))
		if values := md.Get(MetadataDNT); len(values) > 0 {
			dnt = classify.ParseDNT(values[0])
		}
	}

	resp := h.state.Classify(chain, peerAddr(ctx), dnt)

	out, err := toStruct(resp)
	if err != nil {
		h.state.Log().Error("failed to encode classification", "error", err)
		return nil, status.Error(codes.Internal, "encoding failed")
	}
	return out, nil
}

func peerAddr(ctx context.Context) netip.Addr {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return netip.Addr{}
	}
	return proxy.PeerAddr(p.Addr.String())
}

func toStruct(resp classify.Response) (*structpb.Struct, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

func classifyClientHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifyServer).ClassifyClient(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ClassifyClientMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifyServer).ClassifyClient(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClassifyServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ClassifyClient",
			Handler:    classifyClientHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "classify/v1/classify.proto",
}
