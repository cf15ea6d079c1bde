package connectors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// PriceOracleServer is the server side of the Quote contract.
type PriceOracleServer interface {
	Quote(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func quoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PriceOracleServer).Quote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: quoteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PriceOracleServer).Quote(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var priceOracleDesc = grpc.ServiceDesc{
	ServiceName: oracleService,
	HandlerType: (*PriceOracleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Quote", Handler: quoteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pricing/v1/oracle.proto",
}

// RegisterPriceOracle mounts an oracle implementation on s.
func RegisterPriceOracle(s grpc.ServiceRegistrar, impl PriceOracleServer) {
	s.RegisterService(&priceOracleDesc, impl)
}
