package opentracing_test

import (
	"context"
	"testing"

	"github.com/featurebasedb/shardkit/tracing"
	"github.com/featurebasedb/shardkit/tracing/opentracing"
	"github.com/opentracing/opentracing-go/mocktracer"
)

func TestTracer_StartSpanFromContext(t *testing.T) {
	mt := mocktracer.New()
	tr := opentracing.NewTracer(mt)

	parent, ctx := tr.StartSpanFromContext(context.Background(), "fanout")
	child, _ := tr.StartSpanFromContext(ctx, "shard-query")
	child.LogKV("shard", "s1")
	child.Finish()
	parent.Finish()

	spans := mt.FinishedSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 finished spans, got %d", len(spans))
	}
	childSpan, parentSpan := spans[0], spans[1]
	if childSpan.OperationName != "shard-query" || parentSpan.OperationName != "fanout" {
		t.Fatalf("unexpected operations: %s, %s", childSpan.OperationName, parentSpan.OperationName)
	}
	if childSpan.ParentID != parentSpan.SpanContext.SpanID {
		t.Fatalf("expected child of span %d, got parent %d", parentSpan.SpanContext.SpanID, childSpan.ParentID)
	}
	if parentSpan.ParentID != 0 {
		t.Fatalf("expected root span, got parent %d", parentSpan.ParentID)
	}

	logs := childSpan.Logs()
	if len(logs) != 1 || len(logs[0].Fields) != 1 {
		t.Fatalf("unexpected span logs: %+v", logs)
	}
	if f := logs[0].Fields[0]; f.Key != "shard" || f.ValueString != "s1" {
		t.Fatalf("unexpected log field: %+v", f)
	}
}

func TestGlobalTracer(t *testing.T) {
	mt := mocktracer.New()
	orig := tracing.GlobalTracer
	tracing.GlobalTracer = opentracing.NewTracer(mt)
	defer func() { tracing.GlobalTracer = orig }()

	span, _ := tracing.StartSpanFromContext(context.Background(), "route")
	span.Finish()

	spans := mt.FinishedSpans()
	if len(spans) != 1 || spans[0].OperationName != "route" {
		t.Fatalf("expected one routed span, got %+v", spans)
	}
}
