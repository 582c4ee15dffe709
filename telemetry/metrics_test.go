package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := CommandsIngested
	Init()
	if CommandsIngested != first {
		t.Fatal("Init re-registered metrics")
	}
	if DispatchDuration == nil || ReplyWait == nil || BacklogDepth == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestRecordHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(CommandsIngested.WithLabelValues("store_chat_message", "inserted"))
	RecordIngest("store_chat_message", "inserted")
	if got := testutil.ToFloat64(CommandsIngested.WithLabelValues("store_chat_message", "inserted")); got != before+1 {
		t.Errorf("ingested = %v, want %v", got, before+1)
	}

	failBefore := testutil.ToFloat64(DispatchFailures.WithLabelValues("set_theme"))
	RecordDispatch("set_theme", 20*time.Millisecond, true)
	RecordDispatch("set_theme", 20*time.Millisecond, false)
	if got := testutil.ToFloat64(DispatchFailures.WithLabelValues("set_theme")); got != failBefore+1 {
		t.Errorf("dispatch failures = %v, want %v", got, failBefore+1)
	}

	SetBacklog("AWAITING", 7)
	if got := testutil.ToFloat64(BacklogDepth.WithLabelValues("AWAITING")); got != 7 {
		t.Errorf("backlog = %v", got)
	}

	SetInProcess(true)
	if got := testutil.ToFloat64(InProcessGauge); got != 1 {
		t.Errorf("in process gauge = %v", got)
	}
	SetInProcess(false)
	if got := testutil.ToFloat64(InProcessGauge); got != 0 {
		t.Errorf("in process gauge = %v", got)
	}

	reapedBefore := testutil.ToFloat64(LeasesReaped)
	RecordReaped(0)
	RecordReaped(2)
	if got := testutil.ToFloat64(LeasesReaped); got != reapedBefore+2 {
		t.Errorf("reaped = %v", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_duration_seconds", Help: "Test duration"})
	executed := false
	d := TimeFunc(h, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if d < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", d)
	}
	if n := testutil.CollectAndCount(h); n != 1 {
		t.Errorf("collected %d metrics", n)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("empty context has correlation id")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Fatalf("corr = %q", GetCorrelation(ctx))
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("nil logger")
	}
}
