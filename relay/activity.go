package relay

import (
	"context"
	"time"

	pond "github.com/alitto/pond/v2"

	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/store"
)

// ActivitySource is the source recorded for websocket requests.
const ActivitySource = "websocket"

const activityWriteTimeout = 5 * time.Second

// ActivityRecorder writes activity records off the request path on a pond
// pool. Recording never affects the response to the client.
type ActivityRecorder struct {
	logger  logging.Logger
	gateway store.Gateway
	pool    pond.Pool
}

// NewActivityRecorder creates a recorder submitting to pool.
func NewActivityRecorder(logger logging.Logger, gateway store.Gateway, pool pond.Pool) *ActivityRecorder {
	return &ActivityRecorder{
		logger:  logger,
		gateway: gateway,
		pool:    pool,
	}
}

// Record submits an activity for principal.
func (a *ActivityRecorder) Record(principal, requestType, subtype string) {
	activity := store.Activity{
		Source:  ActivitySource,
		Type:    requestType,
		Subtype: subtype,
		User:    principal,
		Created: time.Now().UTC(),
	}
	a.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), activityWriteTimeout)
		defer cancel()
		if err := a.gateway.RecordActivity(ctx, activity); err != nil {
			activitiesRecorded.WithLabelValues(logging.ResultFailure).Inc()
			a.logger.Warn().
				Err(err).
				Str(logging.FieldRequestType, requestType).
				Msg("failed to record activity")
			return
		}
		activitiesRecorded.WithLabelValues(logging.ResultSuccess).Inc()
	})
}
