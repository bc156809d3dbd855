/*
Package tracing carries correlation ids across process boundaries and
fans trace lifecycle events out to live subscribers.

# Propagation

A correlation id travels in the X-Correlation-ID HTTP header and the
x-correlation-id gRPC metadata key. Middleware and interceptors lift it
into the request context; outgoing calls inject it again.

	router.Use(tracing.HTTPMiddleware())

	server := grpc.NewServer(
		grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor()),
		grpc.StreamInterceptor(tracing.GRPCStreamInterceptor()),
	)
	conn, err := grpc.NewClient(addr,
		grpc.WithUnaryInterceptor(tracing.GRPCClientInterceptor()),
	)

	cid := tracing.CorrelationID(ctx)

# Event bus

Bus is a trace.Sink with a buffered queue (1000 events) drained by one
goroutine. Submit never blocks: a full buffer drops the event with a
warning. Subscribers run on the drain goroutine and must be quick.

	bus := tracing.NewBus(logger)
	defer bus.Close()
	cancel := bus.Subscribe(func(ev trace.Event) { ... })
*/
package tracing
