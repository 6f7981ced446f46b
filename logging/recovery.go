package logging

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PanicRecoveriesTotal tracks panic recoveries by component.
	PanicRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rapd",
			Name:      "panic_recoveries_total",
			Help:      "Total number of panic recoveries by component",
		},
		[]string{"component"},
	)
)

// RecoverGoRoutine wraps a goroutine with panic recovery and structured logging.
// Every goroutine the relay spawns (per-connection readers and writers, the
// ingest loop, the presence ticker) goes through this.
//
//	go RecoverGoRoutine(logger, "conn_writer", func(ctx context.Context) {
//	    c.writeLoop(ctx)
//	})(ctx)
func RecoverGoRoutine(logger Logger, component string, fn func(context.Context)) func(context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				PanicRecoveriesTotal.WithLabelValues(component).Inc()

				logger.Error().
					Str(FieldComponent, component).
					Str("panic_value", fmt.Sprintf("%v", r)).
					Str("stack_trace", string(debug.Stack())).
					Msg("PANIC RECOVERED in goroutine")
			}
		}()

		fn(ctx)
	}
}

// RecoverWithLogger runs fn and converts a panic into an error.
// The session handler uses it so a malformed frame that trips a bug only costs
// that one request, not the connection.
func RecoverWithLogger(logger Logger, component string, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			PanicRecoveriesTotal.WithLabelValues(component).Inc()

			logger.Error().
				Str(FieldComponent, component).
				Str(FieldOperation, operation).
				Str("panic_value", fmt.Sprintf("%v", r)).
				Str("stack_trace", string(debug.Stack())).
				Msg("PANIC RECOVERED")

			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()

	return fn()
}
