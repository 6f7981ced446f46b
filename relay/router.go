package relay

import (
	"time"

	"github.com/RAPD/rapd-relay/logging"
)

// Router fans projections out to matching connections. It never mutates
// connection state and never blocks on a slow connection: frames are queued
// on each connection's outbox.
type Router struct {
	logger   logging.Logger
	registry *Registry
}

// NewRouter creates a Router over registry.
func NewRouter(logger logging.Logger, registry *Registry) *Router {
	return &Router{
		logger:   logging.ForComponent(logger, logging.ComponentRouter),
		registry: registry,
	}
}

// RouteResults delivers summaries to every connection whose active session
// is sessionID and returns the number of recipients.
func (r *Router) RouteResults(sessionID string, summaries []any) int {
	if sessionID == "" {
		return 0
	}
	start := time.Now()

	frame, err := EncodeResults(summaries)
	if err != nil {
		r.logger.Error().Err(err).Str(logging.FieldSessionID, sessionID).Msg("failed to encode results frame")
		return 0
	}

	delivered := 0
	r.registry.ForEach(
		func(c *Conn) bool { return c.SessionID() == sessionID },
		func(c *Conn) {
			if c.Send(frame) {
				delivered++
			}
		},
	)

	framesPushed.WithLabelValues(MsgResults).Add(float64(delivered))
	fanoutDuration.WithLabelValues(MsgResults).Observe(time.Since(start).Seconds())
	return delivered
}

// RouteDetail delivers detail once per subscription on resultID, each frame
// tagged with that subscription's id. It returns the number of frames queued.
func (r *Router) RouteDetail(resultID string, detail map[string]any) int {
	if resultID == "" {
		return 0
	}
	start := time.Now()

	// Frames differ only by subscription id; encode each id once.
	encoded := make(map[string][]byte)
	delivered := 0
	r.registry.ForEach(nil, func(c *Conn) {
		for _, subID := range c.DetailSubscriptions(resultID) {
			frame, ok := encoded[subID]
			if !ok {
				var err error
				frame, err = EncodeDetail(subID, detail)
				if err != nil {
					r.logger.Error().Err(err).Str(logging.FieldResultID, resultID).Msg("failed to encode detail frame")
					return
				}
				encoded[subID] = frame
			}
			if c.Send(frame) {
				delivered++
			}
		}
	})

	framesPushed.WithLabelValues(MsgResultDetails).Add(float64(delivered))
	fanoutDuration.WithLabelValues(MsgResultDetails).Observe(time.Since(start).Seconds())
	return delivered
}

// HasDetailSubscribers reports whether any connection subscribes to resultID.
// Ingest uses it to skip detail population nobody will receive.
func (r *Router) HasDetailSubscribers(resultID string) bool {
	found := false
	r.registry.ForEach(nil, func(c *Conn) {
		if !found && len(c.DetailSubscriptions(resultID)) > 0 {
			found = true
		}
	})
	return found
}
