// Package ingest consumes result envelopes from the broker and hands their
// projections to the fan-out router.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/results"
	"github.com/RAPD/rapd-relay/store"
	"github.com/RAPD/rapd-relay/transport"
)

// Router delivers projections to connections.
type Router interface {
	RouteResults(sessionID string, summaries []any) int
	RouteDetail(resultID string, detail map[string]any) int
	HasDetailSubscribers(resultID string) bool
}

// Populator fills side-record slots of a detail record.
type Populator interface {
	Populate(ctx context.Context, domain string, detail map[string]any) map[string]any
}

// Outcome labels for messages_total.
const (
	outcomeRouted          = "routed"
	outcomeEcho            = "echo"
	outcomeDecodeError     = "decode_error"
	outcomeDecompressError = "decompress_error"
	outcomeRecoveredPanic  = "panic"
)

// Projection labels for recipients_total.
const (
	projectionResults      = "results"
	projectionDetail       = "result_details"
	projectionParentDetail = "parent_details"
)

// Ingester runs the single broker subscription for the process lifetime.
// Messages are handled one at a time in arrival order, so the projections of
// one envelope are queued before those of the next.
type Ingester struct {
	logger     logging.Logger
	subscriber transport.Subscriber
	router     Router
	populator  Populator
	bindings   results.CollectionResolver
	now        func() time.Time

	mu       sync.Mutex
	closed   bool
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewIngester creates an Ingester. bindings resolves the parent collection
// for parent re-pushes; populator may be nil to push details unpopulated.
func NewIngester(
	logger logging.Logger,
	subscriber transport.Subscriber,
	router Router,
	populator Populator,
	bindings results.CollectionResolver,
) *Ingester {
	return &Ingester{
		logger:     logging.ForComponent(logger, logging.ComponentIngest),
		subscriber: subscriber,
		router:     router,
		populator:  populator,
		bindings:   bindings,
		now:        time.Now,
	}
}

// Start subscribes in the background.
func (i *Ingester) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return errors.New("ingester is closed")
	}
	ctx, i.cancelFn = context.WithCancel(ctx)
	i.mu.Unlock()

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		logging.RecoverGoRoutine(i.logger, "ingest_subscription", func(ctx context.Context) {
			i.subscriber.Run(ctx, i.Handle)
		})(ctx)
	}()

	i.logger.Info().Msg("event ingest started")
	return nil
}

// Healthy reports whether the broker subscription is established.
func (i *Ingester) Healthy() bool {
	return i.subscriber.Healthy()
}

// Handle processes one broker payload. It never returns an error: malformed
// messages are logged and dropped, failed lookups degrade the projection.
func (i *Ingester) Handle(ctx context.Context, payload []byte) {
	start := time.Now()
	outcome := outcomeRouted
	defer func() {
		messagesTotal.WithLabelValues(outcome).Inc()
		handleDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	err := logging.RecoverWithLogger(i.logger, logging.ComponentIngest, "handle_envelope", func() error {
		outcome = i.handle(ctx, payload)
		return nil
	})
	if err != nil {
		outcome = outcomeRecoveredPanic
	}
}

func (i *Ingester) handle(ctx context.Context, payload []byte) string {
	data, err := transport.MaybeDecompress(payload)
	if err != nil {
		i.logger.Warn().Err(err).Int(logging.FieldSize, len(payload)).Msg("dropping undecompressable envelope")
		return outcomeDecompressError
	}

	env, err := results.Decode(data, i.now())
	if err != nil {
		i.logger.Warn().Err(err).Int(logging.FieldSize, len(data)).Msg("dropping malformed envelope")
		return outcomeDecodeError
	}
	if env.IsEcho() {
		i.logger.Debug().Str(logging.FieldDetailID, env.DetailID).Msg("upstream echo received")
		return outcomeEcho
	}

	event := &logging.EventContext{
		SessionID:  env.SessionID,
		ResultID:   env.ResultID,
		DetailID:   env.DetailID,
		ResultType: env.Plugin.ResultType(),
	}
	logger := i.logger.With().
		Str(logging.FieldSessionID, env.SessionID).
		Str(logging.FieldResultID, env.ResultID).
		Logger()

	n := i.router.RouteResults(env.SessionID, []any{env.Summarize()})
	recipients.WithLabelValues(projectionResults).Add(float64(n))

	if i.router.HasDetailSubscribers(env.ResultID) {
		detail := env.Detail()
		if i.populator != nil {
			detail = i.populator.Populate(ctx, env.Plugin.Domain, detail)
		}
		n := i.router.RouteDetail(env.ResultID, detail)
		recipients.WithLabelValues(projectionDetail).Add(float64(n))
	}

	i.pushParent(ctx, env, logger)

	logging.WithEventContext(i.logger.Debug(), event).Int(logging.FieldCount, n).Msg("envelope routed")
	return outcomeRouted
}

// pushParent re-sends the parent's detail record to its subscribers, since a
// new child changes what the parent view shows.
func (i *Ingester) pushParent(ctx context.Context, env *results.Envelope, logger logging.Logger) {
	if env.ParentID == "" || env.Parent == nil || i.bindings == nil {
		return
	}
	if !i.router.HasDetailSubscribers(env.ParentID) {
		return
	}
	logger = logger.With().Str("parent_id", env.ParentID).Logger()

	coll, err := i.bindings.Resolve(ctx, env.Parent.Domain, env.Parent.Kind)
	if err != nil {
		parentPushes.WithLabelValues(logging.ResultFailure).Inc()
		logger.Warn().Err(err).Msg("failed to resolve parent collection")
		return
	}

	parent, err := coll.FindByResultID(ctx, env.ParentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		parentPushes.WithLabelValues(logging.ResultSkipped).Inc()
		logger.Debug().Str(logging.FieldCollection, coll.Name()).Msg("parent detail not found")
		return
	case err != nil:
		parentPushes.WithLabelValues(logging.ResultFailure).Inc()
		logger.Warn().Err(err).Str(logging.FieldCollection, coll.Name()).Msg("failed to load parent detail")
		return
	}

	if i.populator != nil {
		parent = i.populator.Populate(ctx, env.Parent.Domain, parent)
	}
	n := i.router.RouteDetail(env.ParentID, parent)
	recipients.WithLabelValues(projectionParentDetail).Add(float64(n))
	parentPushes.WithLabelValues(logging.ResultSuccess).Inc()
}

// Close stops the subscription and waits for the in-flight message.
func (i *Ingester) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	if i.cancelFn != nil {
		i.cancelFn()
	}
	i.mu.Unlock()

	err := i.subscriber.Close()
	i.wg.Wait()

	i.logger.Info().Msg("event ingest stopped")
	return err
}
