package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/hlsconvert/internal/config"
)

func withMockTracer(t *testing.T) *mocktracer.MockTracer {
	prev := opentracing.GlobalTracer()
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	t.Cleanup(func() { opentracing.SetGlobalTracer(prev) })
	return tracer
}

func TestStartStage(t *testing.T) {
	tracer := withMockTracer(t)

	root, ctx := StartSpan(context.Background(), "queue")
	span, _ := StartStage(ctx, "encoding", "/videos/talk.mp4")
	SetTag(span, "quality", "720p")
	FinishStage(span, nil)
	FinishSpan(root)

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	stage := spans[0]
	assert.Equal(t, "hlsconvert.encoding", stage.OperationName)
	assert.Equal(t, "/videos/talk.mp4", stage.Tag("file"))
	assert.Equal(t, "720p", stage.Tag("quality"))
	assert.Nil(t, stage.Tag("error"))
	assert.Equal(t, spans[1].SpanContext.SpanID, stage.ParentID)
}

func TestFinishStageWithError(t *testing.T) {
	tracer := withMockTracer(t)

	span, _ := StartStage(context.Background(), "upload", "a.mp4")
	FinishStage(span, errors.New("auth failed"))

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, true, spans[0].Tag("error"))
	require.Len(t, spans[0].Logs(), 1)
	assert.Equal(t, "auth failed", spans[0].Logs()[0].Fields[0].ValueString)
}

func TestNilSpanHelpers(t *testing.T) {
	assert.NotPanics(t, func() {
		FinishSpan(nil)
		LogError(nil, errors.New("x"))
		SetTag(nil, "k", "v")
	})
}

func TestInitTracerDisabled(t *testing.T) {
	tracer, closer, err := InitTracer(config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, opentracing.NoopTracer{}, tracer)
	assert.NoError(t, closer.Close())
}
