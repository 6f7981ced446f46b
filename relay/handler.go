package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RAPD/rapd-relay/auth"
	"github.com/RAPD/rapd-relay/binding"
	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/results"
	"github.com/RAPD/rapd-relay/store"
)

// Populator fills side-record slots of a detail record.
type Populator interface {
	Populate(ctx context.Context, domain string, detail map[string]any) map[string]any
}

// HandlerDeps are the collaborators of the session protocol handler.
type HandlerDeps struct {
	Verifier   auth.Verifier
	Gateway    store.Gateway
	Bindings   results.CollectionResolver
	Populator  Populator
	Classes    results.ClassTable
	Activities *ActivityRecorder

	// RequestTimeout bounds gateway calls for one request. Zero means none.
	RequestTimeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler interprets client frames for one connection at a time. Frames of
// a connection are handled in arrival order by that connection's read loop.
type Handler struct {
	logger logging.Logger
	deps   HandlerDeps
}

// NewHandler creates a Handler.
func NewHandler(logger logging.Logger, deps HandlerDeps) *Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Classes == nil {
		deps.Classes = results.DefaultClassTable()
	}
	return &Handler{
		logger: logging.ForComponent(logger, logging.ComponentHandler),
		deps:   deps,
	}
}

// Handle processes one client frame.
func (h *Handler) Handle(ctx context.Context, c *Conn, data []byte) {
	start := time.Now()

	req, err := DecodeRequest(data)
	if err != nil {
		framesReceived.WithLabelValues("invalid").Inc()
		c.logger.Debug().Err(err).Int(logging.FieldSize, len(data)).Msg("dropping malformed client frame")
		return
	}
	framesReceived.WithLabelValues(req.RequestType).Inc()

	logger := c.logger.With().Str(logging.FieldRequestType, req.RequestType).Logger()

	if req.RequestType == RequestInitialize {
		h.initialize(ctx, c, req, logger)
		return
	}

	if !h.authorized(c, req, logger) {
		return
	}
	if claims := c.Claims(); claims != nil {
		logger = logging.WithPrincipal(logger, claims.PrincipalID)
	}

	if h.deps.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.deps.RequestTimeout)
		defer cancel()
	}

	status := logging.ResultSuccess
	switch req.RequestType {
	case RequestSetSession:
		err = h.setSession(ctx, c, req, logger)
	case RequestUnsetSession:
		h.unsetSession(c, logger)
	case RequestGetResults:
		err = h.getResults(ctx, c, req.SessionID, req.DataType, logger)
	case RequestGetResultDetails:
		err = h.getResultDetails(ctx, c, req, logger)
	case RequestUpdateResult:
		h.updateResult(ctx, req, logger)
	default:
		status = logging.ResultSkipped
		logger.Debug().Msg("ignoring unknown request type")
	}
	if err != nil {
		status = logging.ResultFailure
	}
	requestDuration.WithLabelValues(req.RequestType, status).Observe(time.Since(start).Seconds())
}

func (h *Handler) initialize(ctx context.Context, c *Conn, req *Request, logger logging.Logger) {
	claims, err := h.deps.Verifier.Verify(ctx, req.Token)
	if err != nil {
		authOutcomes.WithLabelValues(authOutcome(err)).Inc()
		logger.Info().Err(err).Msg("initialize rejected")
		h.send(c, logger, func() ([]byte, error) {
			return EncodeFailure(RequestInitialize, "Failed to authenticate token.")
		})
		return
	}

	c.authenticate(claims)
	authOutcomes.WithLabelValues("accepted").Inc()
	authLogger := logging.WithPrincipal(logger, claims.PrincipalID)
	authLogger.Info().
		Time("expires_at", claims.ExpiresAt).
		Msg("connection authenticated")
	h.send(c, logger, EncodeInitialized)
}

// authorized implements the fail-closed policy: requests from connections
// that never authenticated are dropped without an answer. A connection whose
// token has since expired gets one explicit failure and is returned to the
// unauthenticated state.
func (h *Handler) authorized(c *Conn, req *Request, logger logging.Logger) bool {
	claims := c.Claims()
	if claims == nil {
		unauthenticatedDropped.Inc()
		logger.Debug().Msg("dropping request from unauthenticated connection")
		return false
	}
	if claims.Valid(h.deps.Now()) {
		return true
	}

	c.deauthenticate()
	authOutcomes.WithLabelValues("expired").Inc()
	logger.Info().Msg("token expired, connection returned to unauthenticated")
	h.send(c, logger, func() ([]byte, error) {
		return EncodeFailure(req.RequestType, "Token expired.")
	})
	return false
}

func (h *Handler) setSession(ctx context.Context, c *Conn, req *Request, logger logging.Logger) error {
	if req.SessionID == "" {
		logger.Debug().Msg("set_session without session_id")
		return fmt.Errorf("%w: set_session without session_id", results.ErrDecode)
	}
	c.setSession(req.SessionID)
	sessionLogger := logging.WithSession(logger, req.SessionID)
	sessionLogger.Debug().Msg("session set")

	return h.getResults(ctx, c, req.SessionID, results.ClassAll, logger)
}

func (h *Handler) unsetSession(c *Conn, logger logging.Logger) {
	c.setSession("")
	c.clearDetails()
	logger.Debug().Msg("session unset")
}

func (h *Handler) getResults(ctx context.Context, c *Conn, sessionID, filter string, logger logging.Logger) error {
	logger = logging.WithSession(logger, sessionID)

	q, err := h.deps.Classes.Query(sessionID, filter)
	if err != nil {
		logger.Debug().Err(err).Str(logging.FieldClass, filter).Msg("unknown result class")
		h.send(c, logger, func() ([]byte, error) {
			return EncodeFailure(RequestGetResults, err.Error())
		})
		return err
	}

	docs, err := h.timedList(ctx, q)
	if err != nil {
		logger.Warn().Err(err).Str(logging.FieldClass, filter).Msg("failed to list results")
		h.send(c, logger, func() ([]byte, error) {
			return EncodeFailure(RequestGetResults, "failed to load results")
		})
		return err
	}

	list := make([]any, len(docs))
	for i, d := range docs {
		list[i] = d
	}
	h.send(c, logger, func() ([]byte, error) { return EncodeResults(list) })
	logger.Debug().Int(logging.FieldCount, len(docs)).Str(logging.FieldClass, filter).Msg("results sent")

	h.recordActivity(c, RequestGetResults, strings.ReplaceAll(filter, ":", "_"))
	return nil
}

func (h *Handler) timedList(ctx context.Context, q store.ResultQuery) ([]store.Document, error) {
	start := time.Now()
	docs, err := h.deps.Gateway.ListResults(ctx, q)
	observeGateway("list_results", start, err)
	return docs, err
}

func (h *Handler) getResultDetails(ctx context.Context, c *Conn, req *Request, logger logging.Logger) error {
	key := req.DetailTarget()
	logger = logger.With().
		Str(logging.FieldResultID, key.ResultID).
		Str(logging.FieldSubscriptionID, key.SubscriptionID).
		Logger()

	if key.Domain == "" || key.PluginKind == "" || key.ResultID == "" {
		logger.Debug().Msg("get_result_details missing domain, plugin kind or result id")
		h.send(c, logger, func() ([]byte, error) {
			return EncodeFailure(RequestGetResultDetails, "domain, plugin_kind and result_id are required")
		})
		return fmt.Errorf("%w: incomplete get_result_details", results.ErrDecode)
	}
	key.Domain = strings.ToLower(key.Domain)
	key.PluginKind = strings.ToLower(key.PluginKind)

	if c.addDetail(key) {
		logger.Debug().Msg("detail subscription added")
	}
	h.recordActivity(c, RequestGetResultDetails, key.Domain+"_"+key.PluginKind)

	coll, err := h.deps.Bindings.Resolve(ctx, key.Domain, key.PluginKind)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to resolve type binding")
		msg := "failed to load result details"
		if errors.Is(err, binding.ErrInvalidName) {
			msg = "invalid domain or plugin kind"
		}
		h.send(c, logger, func() ([]byte, error) { return EncodeFailure(RequestGetResultDetails, msg) })
		return err
	}

	start := time.Now()
	detail, err := coll.FindByResultID(ctx, key.ResultID)
	observeGateway("find_detail", start, err)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Debug().Str(logging.FieldCollection, coll.Name()).Msg("detail not found")
		h.send(c, logger, func() ([]byte, error) { return EncodeDetailNotFound(key.SubscriptionID, key.ResultID) })
		return nil
	case err != nil:
		logger.Warn().Err(err).Str(logging.FieldCollection, coll.Name()).Msg("failed to load detail")
		h.send(c, logger, func() ([]byte, error) {
			return EncodeFailure(RequestGetResultDetails, "failed to load result details")
		})
		return err
	}

	// The unpopulated record goes out first so the client can render while
	// side-records load; the populated record follows with the same tag.
	h.send(c, logger, func() ([]byte, error) { return EncodeDetail(key.SubscriptionID, detail) })
	if _, ok := detail["process"]; !ok || h.deps.Populator == nil {
		return nil
	}
	populated := h.deps.Populator.Populate(ctx, key.Domain, detail)
	h.send(c, logger, func() ([]byte, error) { return EncodeDetail(key.SubscriptionID, populated) })
	return nil
}

// updateResult forwards a partial update. No frame is sent back either way.
func (h *Handler) updateResult(ctx context.Context, req *Request, logger logging.Logger) {
	id := ""
	if req.Result != nil {
		switch v := req.Result["_id"].(type) {
		case string:
			id = v
		case nil:
		default:
			id = fmt.Sprint(v)
		}
	}
	if id == "" {
		logger.Debug().Msg("update_result without result._id")
		return
	}

	patch := make(store.Document, len(req.Result))
	for k, v := range req.Result {
		if k != "_id" {
			patch[k] = v
		}
	}

	start := time.Now()
	err := h.deps.Gateway.UpdateResult(ctx, id, patch)
	observeGateway("update_result", start, err)
	if err != nil {
		logger.Warn().Err(err).Str(logging.FieldResultID, id).Msg("failed to update result")
		return
	}
	logger.Debug().Str(logging.FieldResultID, id).Msg("result updated")
}

func (h *Handler) recordActivity(c *Conn, requestType, subtype string) {
	if h.deps.Activities == nil {
		return
	}
	principal := ""
	if claims := c.Claims(); claims != nil {
		principal = claims.PrincipalID
	}
	h.deps.Activities.Record(principal, requestType, subtype)
}

// send encodes and queues a direct response.
func (h *Handler) send(c *Conn, logger logging.Logger, encode func() ([]byte, error)) {
	frame, err := encode()
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
		return
	}
	c.Send(frame)
}

func authOutcome(err error) string {
	switch {
	case errors.Is(err, auth.ErrVerifyTimeout):
		return "timeout"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	default:
		return "rejected"
	}
}

func observeGateway(operation string, start time.Time, err error) {
	status := logging.ResultSuccess
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		status = "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		status = logging.ResultTimeout
	default:
		status = logging.ResultFailure
	}
	gatewayDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
