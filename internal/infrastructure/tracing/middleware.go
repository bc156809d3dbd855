package tracing

import (
	"context"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// GinKey is where HTTPMiddleware stores the id on the gin context.
const GinKey = "correlation_id"

// HTTPMiddleware lifts X-Correlation-ID into the request context and
// echoes it on the response.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(Header)
		if cid != "" {
			c.Request = c.Request.WithContext(WithCorrelationID(c.Request.Context(), cid))
			c.Set(GinKey, cid)
			c.Header(Header, cid)
		}
		c.Next()
	}
}

// GRPCUnaryInterceptor lifts the correlation id from incoming metadata
func GRPCUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		return handler(fromIncoming(ctx), req)
	}
}

// GRPCStreamInterceptor lifts the correlation id for streaming calls
func GRPCStreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		return handler(srv, &correlatedServerStream{
			ServerStream: ss,
			ctx:          fromIncoming(ss.Context()),
		})
	}
}

// correlatedServerStream wraps grpc.ServerStream with the correlated context
type correlatedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *correlatedServerStream) Context() context.Context {
	return s.ctx
}

// GRPCClientInterceptor appends the context's correlation id to outgoing metadata
func GRPCClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if cid := CorrelationID(ctx); cid != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, MetadataKey, cid)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func fromIncoming(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	if vals := md.Get(MetadataKey); len(vals) > 0 {
		return WithCorrelationID(ctx, vals[0])
	}
	return ctx
}
