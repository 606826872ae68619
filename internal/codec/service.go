package codec

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "triage.v1.DescriptorStore"

const (
	methodGetFingerprint = "GetFingerprint"
	methodGetDescriptors = "GetDescriptors"
	methodGetMetadata    = "GetMetadata"
)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// #region client-api
// DescriptorStoreClient is the client API for the descriptor store service.
// Requests and responses are google.protobuf.Struct messages.
type DescriptorStoreClient interface {
	GetFingerprint(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetDescriptors(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetMetadata(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type descriptorStoreClient struct {
	cc grpc.ClientConnInterface
}

// NewDescriptorStoreClient binds the service API to a connection.
func NewDescriptorStoreClient(cc grpc.ClientConnInterface) DescriptorStoreClient {
	return &descriptorStoreClient{cc: cc}
}

func (c *descriptorStoreClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *descriptorStoreClient) GetFingerprint(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetFingerprint, in, opts)
}

func (c *descriptorStoreClient) GetDescriptors(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetDescriptors, in, opts)
}

func (c *descriptorStoreClient) GetMetadata(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetMetadata, in, opts)
}

// #endregion client-api

// #region server-api
// DescriptorStoreServer is the server API for the descriptor store service.
type DescriptorStoreServer interface {
	GetFingerprint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetDescriptors(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetMetadata(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type serverCall func(DescriptorStoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call serverCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DescriptorStoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(DescriptorStoreServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DescriptorStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodGetFingerprint, DescriptorStoreServer.GetFingerprint),
		unary(methodGetDescriptors, DescriptorStoreServer.GetDescriptors),
		unary(methodGetMetadata, DescriptorStoreServer.GetMetadata),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "triage/v1/descriptor_store.proto",
}

// RegisterDescriptorStoreServer attaches srv to a gRPC server.
func RegisterDescriptorStoreServer(s grpc.ServiceRegistrar, srv DescriptorStoreServer) {
	s.RegisterService(&serviceDesc, srv)
}

// #endregion server-api
