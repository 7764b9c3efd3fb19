// Package observability exposes Prometheus metrics for turns, model calls
// and command execution.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat2edit/internal/logging"
)

// Metrics bundles the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	Turns         *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	LLMCalls      *prometheus.CounterVec
	LLMDuration   prometheus.Histogram
	FormatErrors  prometheus.Counter
	Statements    *prometheus.CounterVec
	AttachedFiles prometheus.Counter
}

// NewMetrics constructs a registry with the chat2edit collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	turns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat2edit_turns_total",
		Help: "User turns handled, by status",
	}, []string{"status"})

	turnDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat2edit_turn_duration_seconds",
		Help:    "Turn duration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat2edit_llm_calls_total",
		Help: "Model calls, by outcome",
	}, []string{"outcome"})

	callDur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat2edit_llm_call_duration_seconds",
		Help:    "Model call latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	formatErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat2edit_answer_format_errors_total",
		Help: "Model answers missing a thinking or commands section",
	})

	stmts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat2edit_statements_total",
		Help: "Executed command statements, by batch status",
	}, []string{"status"})

	files := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat2edit_attachments_ingested_total",
		Help: "Attachments converted into variables",
	})

	reg.MustRegister(turns, turnDur, calls, callDur, formatErrs, stmts, files)

	return &Metrics{
		registry:      reg,
		Turns:         turns,
		TurnDuration:  turnDur,
		LLMCalls:      calls,
		LLMDuration:   callDur,
		FormatErrors:  formatErrs,
		Statements:    stmts,
		AttachedFiles: files,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(status string, d time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.Turns.WithLabelValues(status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordLLMCall records one model call.
func (m *Metrics) RecordLLMCall(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LLMCalls.WithLabelValues(outcome).Inc()
	m.LLMDuration.Observe(d.Seconds())
}

// RecordFormatError counts an unreadable model answer.
func (m *Metrics) RecordFormatError() {
	if m == nil {
		return
	}
	m.FormatErrors.Inc()
}

// RecordStatements counts the statements a batch ran under its final status.
func (m *Metrics) RecordStatements(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Statements.WithLabelValues(status).Add(float64(n))
}

// RecordAttachments counts ingested attachments.
func (m *Metrics) RecordAttachments(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AttachedFiles.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logging.Boot("Serving metrics on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
