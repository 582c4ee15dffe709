// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommandsIngested *prometheus.CounterVec // label: command, outcome
	ParseFailures    prometheus.Counter
	PollCycles       *prometheus.CounterVec // label: result
	DispatchFailures *prometheus.CounterVec // label: command
	ReplySources     *prometheus.CounterVec // label: source (ai, queued)
	AIFailures       prometheus.Counter
	LeasesReaped     prometheus.Counter

	// Histograms (seconds)
	DispatchDuration *prometheus.HistogramVec // label: command
	ReplyWait        prometheus.Observer

	// Gauges
	BacklogDepth   *prometheus.GaugeVec // label: status
	InProcessGauge prometheus.Gauge
	ChatConnected  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsIngested = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatqueue_commands_ingested_total", Help: "Chat commands seen by ingestion, by command and outcome"}, []string{"command", "outcome"})
		ParseFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chatqueue_parse_failures_total", Help: "Chat lines that did not parse as a command"})
		PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatqueue_poll_cycles_total", Help: "Poller ticks by result"}, []string{"result"})
		DispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatqueue_dispatch_failures_total", Help: "Handler failures by command"}, []string{"command"})
		ReplySources = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatqueue_reply_source_total", Help: "Replies served by source"}, []string{"source"})
		AIFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chatqueue_ai_failures_total", Help: "Failed AI completion attempts"})
		LeasesReaped = promauto.NewCounter(prometheus.CounterOpts{Name: "chatqueue_leases_reaped_total", Help: "Stale in-process messages completed by the poller"})
		DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "chatqueue_dispatch_duration_seconds", Help: "Dispatch duration seconds", Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120}}, []string{"command"})
		ReplyWait = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatqueue_reply_wait_seconds", Help: "Time the reply router spent producing a response", Buckets: prometheus.DefBuckets})
		BacklogDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "chatqueue_backlog_depth", Help: "Messages per status"}, []string{"status"})
		InProcessGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatqueue_in_process", Help: "1 while a message is being dispatched"})
		ChatConnected = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatqueue_chat_connected", Help: "Twitch chat connection up=1 down=0"})
	})
}

// RecordIngest counts one ingested chat command.
func RecordIngest(command, outcome string) {
	if CommandsIngested != nil {
		CommandsIngested.WithLabelValues(command, outcome).Inc()
	}
}

// RecordParseFailure counts a chat line that was not a command.
func RecordParseFailure() {
	if ParseFailures != nil {
		ParseFailures.Inc()
	}
}

// RecordPoll counts a poller tick with its result (dispatched, busy, empty, error).
func RecordPoll(result string) {
	if PollCycles != nil {
		PollCycles.WithLabelValues(result).Inc()
	}
}

// RecordDispatch observes a dispatch and counts it as a failure when failed is set.
func RecordDispatch(command string, d time.Duration, failed bool) {
	if DispatchDuration != nil {
		DispatchDuration.WithLabelValues(command).Observe(d.Seconds())
	}
	if failed && DispatchFailures != nil {
		DispatchFailures.WithLabelValues(command).Inc()
	}
}

// RecordReply counts a reply by source and observes the total wait.
func RecordReply(source string, wait time.Duration) {
	if ReplySources != nil {
		ReplySources.WithLabelValues(source).Inc()
	}
	if ReplyWait != nil {
		ReplyWait.Observe(wait.Seconds())
	}
}

// RecordAIFailure counts one failed completion attempt.
func RecordAIFailure() {
	if AIFailures != nil {
		AIFailures.Inc()
	}
}

// RecordReaped adds n reaped leases.
func RecordReaped(n int) {
	if LeasesReaped != nil && n > 0 {
		LeasesReaped.Add(float64(n))
	}
}

// SetBacklog records the number of messages in status.
func SetBacklog(status string, n int) {
	if BacklogDepth != nil {
		BacklogDepth.WithLabelValues(status).Set(float64(n))
	}
}

// SetInProcess flips the in-process gauge.
func SetInProcess(active bool) { setBool(InProcessGauge, active) }

// SetChatConnected flips the chat connection gauge.
func SetChatConnected(up bool) { setBool(ChatConnected, up) }

func setBool(g prometheus.Gauge, v bool) {
	if g == nil {
		return
	}
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
