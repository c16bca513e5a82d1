package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestObservability_RecordsJobs(t *testing.T) {
	reg := promclient.NewRegistry()
	o := New("rfq-workers-test", WithRegisterer(reg))
	defer o.Shutdown()

	ctx := context.Background()
	o.RecordJobProcessed(ctx, "rfq-dispatch", "completed")
	o.RecordJobDuration(ctx, "rfq-dispatch", 25*time.Millisecond, "completed")

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	found := false
	for _, f := range families {
		names = append(names, f.GetName())
		if strings.HasPrefix(f.GetName(), "jobs_processed") {
			found = true
		}
	}
	assert.True(t, found, "got %v", names)
}

func TestObservability_Tracer(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	o := New("rfq-workers-test", WithRegisterer(promclient.NewRegistry()), WithSpanProcessor(recorder))
	defer o.Shutdown()

	_, span := o.Tracer().Start(context.Background(), "rfq.dispatch", trace.WithAttributes(attribute.String("stack_id", "S1")))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "rfq.dispatch", ended[0].Name())
}

func TestObservability_SampleRatio(t *testing.T) {
	tests := []struct {
		name    string
		ratio   float64
		wantLen int
	}{
		{name: "always", ratio: 1, wantLen: 1},
		{name: "never", ratio: 0, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := tracetest.NewSpanRecorder()
			o := New("rfq-workers-test",
				WithRegisterer(promclient.NewRegistry()),
				WithSpanProcessor(recorder),
				WithSampleRatio(tt.ratio),
			)
			defer o.Shutdown()

			_, span := o.Tracer().Start(context.Background(), "rfq.dispatch")
			span.End()

			assert.Len(t, recorder.Ended(), tt.wantLen)
		})
	}
}

func TestNewOTLPProcessor(t *testing.T) {
	// Nothing listens here; the exporter dials lazily and drops spans it cannot send.
	sp, err := NewOTLPProcessor(context.Background(), "127.0.0.1:1", true)
	require.NoError(t, err)

	o := New("rfq-workers-test", WithRegisterer(promclient.NewRegistry()), WithSpanProcessor(sp))
	_, span := o.Tracer().Start(context.Background(), "rfq.dispatch")
	span.End()

	done := make(chan struct{})
	go func() {
		o.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown blocked on an unreachable collector")
	}
}

func TestObservability_NilSafe(t *testing.T) {
	var o *Observability
	o.RecordJobProcessed(context.Background(), "x", "completed")
	_, span := o.Tracer().Start(context.Background(), "noop")
	span.End()
	o.Shutdown()
}
