package dispatch

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/egsm/perftrace/internal/domain/correlation"
	"github.com/egsm/perftrace/internal/domain/trace"
)

// Recorder records stages. *trace.Store satisfies it.
type Recorder interface {
	RecordStage(cid string, stage trace.Stage, writer string, data trace.StageData) error
}

// Options configures an Observer.
type Options struct {
	// Writer is recorded in ComponentsSeen.
	Writer string
	// IngressStage is recorded for received messages; default received.
	IngressStage trace.Stage
	// EmitStage is recorded for emitted events; default processed.
	EmitStage trace.Stage
	Logger    *zap.Logger
}

// Observer records stages for messages flowing through a transport.
type Observer struct {
	recorder Recorder
	resolver *correlation.Resolver
	writer   string
	ingress  trace.Stage
	emit     trace.Stage
	log      *zap.Logger
}

// NewObserver creates an observer.
func NewObserver(recorder Recorder, resolver *correlation.Resolver, opts Options) *Observer {
	if !opts.IngressStage.Valid() {
		opts.IngressStage = trace.StageReceived
	}
	if !opts.EmitStage.Valid() {
		opts.EmitStage = trace.StageProcessed
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Observer{
		recorder: recorder,
		resolver: resolver,
		writer:   opts.Writer,
		ingress:  opts.IngressStage,
		emit:     opts.EmitStage,
		log:      opts.Logger.Named("dispatch"),
	}
}

// OnMessage is the transport's message callback: it records the ingress
// stage for the trace the message carries. It reports the resolved id.
func (o *Observer) OnMessage(subject string, body any) (string, bool) {
	return o.track(o.ingress, "message_received", subject, body, trace.StageData{
		Attributes: map[string]any{"subject": subject},
	}, false)
}

// OnPublish records the emit stage for a message the component sends,
// with outputs as the events it generated.
func (o *Observer) OnPublish(subject string, body any, outputs []string) (string, bool) {
	return o.track(o.emit, "message_published", subject, body, trace.StageData{
		Outputs:    outputs,
		Attributes: map[string]any{"subject": subject},
	}, false)
}

// track resolves the id for an event and records stage. When requireTrackable
// is set, events outside the trackable set with no explicit id are skipped.
func (o *Observer) track(stage trace.Stage, event string, arg1, arg2 any, data trace.StageData, requireTrackable bool) (cid string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("tracking panicked", zap.String("event", event), zap.Any("panic", r))
			cid, ok = "", false
		}
	}()

	if requireTrackable {
		if _, explicit := correlation.Extract(arg1, arg2); !explicit && !o.resolver.Trackable(event, arg1, arg2) {
			return "", false
		}
	}

	cid, method, ok := o.resolver.Resolve(event, arg1, arg2)
	if !ok {
		return "", false
	}
	if data.Attributes == nil {
		data.Attributes = map[string]any{}
	}
	data.Attributes["event"] = event
	if method == correlation.MethodHeuristic {
		data.Attributes["matched"] = string(method)
	}

	err := o.recorder.RecordStage(cid, stage, o.writer, data)
	switch {
	case err == nil:
	case errors.Is(err, trace.ErrTraceNotFound), errors.Is(err, trace.ErrTraceTerminal):
		o.log.Debug("stage not recorded",
			zap.String("correlation_id", cid),
			zap.String("stage", string(stage)),
			zap.Error(err))
	default:
		o.log.Warn("stage recording failed",
			zap.String("correlation_id", cid),
			zap.String("stage", string(stage)),
			zap.Error(err))
	}
	return cid, true
}

// outputIDs names the events listed under "responses" or, failing that,
// "events" in payload. String entries are used as-is; objects use their
// id-like field or a positional name.
func outputIDs(event string, payload any) []string {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	var list []any
	for _, key := range []string{"responses", "events"} {
		if l, ok := obj[key].([]any); ok {
			list = l
			break
		}
		if l, ok := obj[key].([]string); ok {
			for _, s := range l {
				list = append(list, s)
			}
			break
		}
	}

	ids := make([]string, 0, len(list))
	for i, item := range list {
		ids = append(ids, outputID(event, i, item))
	}
	return ids
}

func outputID(event string, i int, item any) string {
	switch v := item.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if cid, ok := correlation.Extract(v, nil); ok {
			return cid
		}
		for _, key := range []string{"id", "eventId", "event_id", "name", "type"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("%s#%d", event, i)
}
