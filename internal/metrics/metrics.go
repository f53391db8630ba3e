package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wayfinder-mcp-server/internal/exposure"
	"wayfinder-mcp-server/internal/navigation"
)

var (
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wayfinder",
			Name:      "state_transitions_total",
			Help:      "Tool exposure state transitions, by new state.",
		},
		[]string{"state"},
	)

	Waits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wayfinder",
			Name:      "waits_total",
			Help:      "Completed waits, by kind (tool or context) and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	Navigations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wayfinder",
			Name:      "navigations_total",
			Help:      "Finished navigation walks, by status and failure reason.",
		},
		[]string{"status", "reason"},
	)

	NavigationStepSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wayfinder",
			Name:      "navigation_step_seconds",
			Help:      "Duration of a single navigation step in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)

	ContextChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wayfinder",
			Name:      "context_changes_total",
			Help:      "Moves of the current-context pointer.",
		},
	)

	ToolsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wayfinder",
			Name:      "tools_registered",
			Help:      "Number of tools currently registered.",
		},
	)
)

// Wait kinds.
const (
	WaitTool    = "tool"
	WaitContext = "context"
)

// RecordWait counts one finished wait.
func RecordWait(kind string, reached bool) {
	outcome := "timeout"
	if reached {
		outcome = "reached"
	}
	Waits.WithLabelValues(kind, outcome).Inc()
}

// RefreshToolGauge sets the registered-tools gauge from the registry.
func RefreshToolGauge(registry *exposure.Registry) {
	ToolsRegistered.Set(float64(registry.Len()))
}

// Attach hooks the collectors into the registry, tracker and executor. Any of them may be
// nil. The returned func removes every subscription.
func Attach(registry *exposure.Registry, tracker *navigation.Tracker, executor *navigation.Executor) func() {
	var detach []func()

	if registry != nil {
		RefreshToolGauge(registry)
		detach = append(detach,
			registry.Subscribe(func(evt exposure.StateChangeEvent) {
				StateTransitions.WithLabelValues(evt.NewState.String()).Inc()
			}),
			registry.OnMembershipChange(func(string, bool) {
				RefreshToolGauge(registry)
			}),
		)
	}
	if tracker != nil {
		detach = append(detach, tracker.Subscribe(func(navigation.ContextChange) {
			ContextChanges.Inc()
		}))
	}
	if executor != nil {
		detach = append(detach,
			executor.OnStep(func(evt navigation.StepEvent) {
				NavigationStepSeconds.Observe(evt.Duration.Seconds())
			}),
			executor.OnResult(func(res navigation.Result) {
				Navigations.WithLabelValues(string(res.Status), res.Reason).Inc()
			}),
		)
	}

	return func() {
		for _, fn := range detach {
			fn()
		}
	}
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[metrics] listening on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
