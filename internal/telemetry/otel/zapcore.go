package otel

import (
	"context"
	"fmt"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "medilink"

// recordEmitter is the part of otellog.Logger the core uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewZapCore returns a core that copies zap entries at or above level to provider as OTel log records.
// Tee it with the console core so logs reach both stderr and the collector. A nil provider yields a no-op core.
func NewZapCore(provider *sdklog.LoggerProvider, level zapcore.LevelEnabler) zapcore.Core {
	if provider == nil {
		return zapcore.NewNopCore()
	}
	return newCore(provider.Logger(instrumentationName), level)
}

func newCore(emitter recordEmitter, level zapcore.LevelEnabler) *otelCore {
	return &otelCore{LevelEnabler: level, emitter: emitter}
}

type otelCore struct {
	zapcore.LevelEnabler
	emitter recordEmitter
	fields  []zapcore.Field
}

func (c *otelCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *otelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *otelCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	var rec otellog.Record
	rec.SetTimestamp(ent.Time)
	rec.SetObservedTimestamp(ent.Time)
	rec.SetBody(otellog.StringValue(ent.Message))
	rec.SetSeverity(severity(ent.Level))
	rec.SetSeverityText(ent.Level.String())
	if ent.LoggerName != "" {
		rec.AddAttributes(otellog.String("logger", ent.LoggerName))
	}
	if ent.Caller.Defined {
		rec.AddAttributes(otellog.String("caller", ent.Caller.TrimmedPath()))
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	for k, v := range enc.Fields {
		rec.AddAttributes(attribute(k, v))
	}
	c.emitter.Emit(context.Background(), rec)
	return nil
}

func (c *otelCore) Sync() error { return nil }

func attribute(k string, v any) otellog.KeyValue {
	switch x := v.(type) {
	case string:
		return otellog.String(k, x)
	case bool:
		return otellog.Bool(k, x)
	case int:
		return otellog.Int(k, x)
	case int64:
		return otellog.Int64(k, x)
	case int32:
		return otellog.Int64(k, int64(x))
	case uint32:
		return otellog.Int64(k, int64(x))
	case float64:
		return otellog.Float64(k, x)
	case float32:
		return otellog.Float64(k, float64(x))
	case []byte:
		return otellog.Bytes(k, x)
	}
	return otellog.String(k, fmt.Sprint(v))
}

func severity(l zapcore.Level) otellog.Severity {
	switch l {
	case zapcore.DebugLevel:
		return otellog.SeverityDebug
	case zapcore.InfoLevel:
		return otellog.SeverityInfo
	case zapcore.WarnLevel:
		return otellog.SeverityWarn
	case zapcore.ErrorLevel:
		return otellog.SeverityError
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		return otellog.SeverityFatal1
	case zapcore.FatalLevel:
		return otellog.SeverityFatal4
	}
	return otellog.SeverityUndefined
}
