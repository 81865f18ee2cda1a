package shipping

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	grpcServiceName = "storefront.shipping.v1.ShippingService"
	quoteMethod     = "/" + grpcServiceName + "/Quote"
)

// QuoteServer answers shipping quotes over gRPC. Requests and responses are
// google.protobuf.Struct values:
//
//	request:  {"country": "DE", "weight_kg": 1.2}
//	response: {"price": 14.5, "zone": "Europa", "range": "1–3 kg"}
type QuoteServer interface {
	Quote(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var shippingServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*QuoteServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Quote", Handler: quoteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/shipping/v1/shipping.proto",
}

func quoteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QuoteServer).Quote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: quoteMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QuoteServer).Quote(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer adapts Service to QuoteServer.
type GRPCServer struct {
	svc *Service
}

// RegisterGRPC exposes svc's calculator on s.
func RegisterGRPC(s *grpc.Server, svc *Service) {
	s.RegisterService(&shippingServiceDesc, &GRPCServer{svc: svc})
}

func (g *GRPCServer) Quote(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()

	country := fields["country"].GetStringValue()
	weight := DefaultWeightKg
	if v, ok := fields["weight_kg"]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
			return nil, status.Error(codes.InvalidArgument, "weight_kg must be a number")
		}
		weight = decimal.NewFromFloat(v.GetNumberValue())
	}
	if weight.IsNegative() {
		return nil, status.Error(codes.InvalidArgument, "weight_kg must not be negative")
	}

	quote, err := g.svc.Calculate(ctx, country, weight)
	if err != nil {
		if errors.Is(err, ErrNoZone) || errors.Is(err, ErrNoRange) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		logrus.WithError(err).Error("gRPC shipping quote failed")
		return nil, status.Error(codes.Internal, "failed to calculate shipping")
	}

	return structpb.NewStruct(map[string]interface{}{
		"price": quote.Price.InexactFloat64(),
		"zone":  quote.Zone,
		"range": quote.Range,
	})
}

// QuoteRPC calls the Quote method through conn.
func QuoteRPC(ctx context.Context, conn grpc.ClientConnInterface, country string, weightKg float64) (*Quote, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"country":   country,
		"weight_kg": weightKg,
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, quoteMethod, req, out); err != nil {
		return nil, err
	}
	f := out.GetFields()
	return &Quote{
		Price: decimal.NewFromFloat(f["price"].GetNumberValue()),
		Zone:  f["zone"].GetStringValue(),
		Range: f["range"].GetStringValue(),
	}, nil
}
