package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/egsm/perftrace/internal/domain/trace"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationID(ctx))
	assert.Equal(t, ctx, WithCorrelationID(ctx, ""))

	ctx = WithCorrelationID(ctx, "trace_01")
	assert.Equal(t, "trace_01", CorrelationID(ctx))

	h := http.Header{}
	InjectHeader(ctx, h)
	assert.Equal(t, "trace_01", h.Get(Header))
	assert.Equal(t, "trace_01", CorrelationID(ExtractHeader(context.Background(), h)))
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(HTTPMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "%s|%s", CorrelationID(c.Request.Context()), c.GetString(GinKey))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(Header, "trace_abc")
	router.ServeHTTP(w, req)
	assert.Equal(t, "trace_abc|trace_abc", w.Body.String())
	assert.Equal(t, "trace_abc", w.Header().Get(Header))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "|", w.Body.String())
	assert.Empty(t, w.Header().Get(Header))
}

func TestGRPCUnaryInterceptor(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataKey, "trace_grpc"))
	var got string
	_, err := GRPCUnaryInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			got = CorrelationID(ctx)
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "trace_grpc", got)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestGRPCStreamInterceptor(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataKey, "trace_stream"))
	var got string
	err := GRPCStreamInterceptor()(nil, fakeStream{ctx: ctx}, &grpc.StreamServerInfo{FullMethod: "/svc/S"},
		func(srv interface{}, ss grpc.ServerStream) error {
			got = CorrelationID(ss.Context())
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "trace_stream", got)
}

func TestGRPCClientInterceptor(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "trace_out")
	var md metadata.MD
	err := GRPCClientInterceptor()(ctx, "/svc/M", nil, nil, nil,
		func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			md, _ = metadata.FromOutgoingContext(ctx)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"trace_out"}, md.Get(MetadataKey))
}

func TestBusFansOut(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var a, b []string
	cancelA := bus.Subscribe(func(ev trace.Event) {
		mu.Lock()
		defer mu.Unlock()
		a = append(a, ev.CorrelationID)
	})
	bus.Subscribe(func(ev trace.Event) {
		mu.Lock()
		defer mu.Unlock()
		b = append(b, ev.CorrelationID)
	})
	assert.Equal(t, 2, bus.Subscribers())

	bus.Submit(trace.Event{Kind: trace.EventBegun, CorrelationID: "t1"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(a) == 1 && len(b) == 1
	}, time.Second, 5*time.Millisecond)

	cancelA()
	bus.Submit(trace.Event{Kind: trace.EventStage, CorrelationID: "t2"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(b) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"t1"}, a)
}

func TestBusSurvivesPanickingSubscriber(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	bus := NewBus(zap.New(core))
	defer bus.Close()

	got := make(chan string, 1)
	bus.Subscribe(func(trace.Event) { panic("boom") })
	bus.Subscribe(func(ev trace.Event) { got <- ev.CorrelationID })

	bus.Submit(trace.Event{CorrelationID: "t1"})
	select {
	case cid := <-got:
		assert.Equal(t, "t1", cid)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	require.Eventually(t, func() bool { return logs.FilterMessage("subscriber panicked").Len() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestBusDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	bus := NewBus(zap.New(core))
	defer bus.Close()

	release := make(chan struct{})
	bus.Subscribe(func(trace.Event) { <-release })

	// One event is held by the blocked subscriber, busBuffer more fill
	// the queue, and the rest are dropped.
	for i := 0; i < busBuffer+10; i++ {
		bus.Submit(trace.Event{CorrelationID: "t"})
	}
	close(release)

	assert.GreaterOrEqual(t, logs.FilterMessage("event buffer full, dropping event").Len(), 9)
}

func TestSubmitAfterCloseIsIgnored(t *testing.T) {
	bus := NewBus(nil)
	bus.Close()
	assert.NotPanics(t, func() { bus.Submit(trace.Event{CorrelationID: "late"}) })
}
