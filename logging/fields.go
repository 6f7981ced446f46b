// Package logging provides centralized logging utilities for the result relay.
// It defines standardized field names and helper functions so every component
// emits the same structured keys.
package logging

// Standard field name constants for structured logging.
const (
	// Component identification
	FieldComponent = "component"
	FieldInstance  = "instance"

	// Connection fields
	FieldConnID     = "conn_id"
	FieldRemoteAddr = "remote_addr"
	FieldListenAddr = "listen_addr"
	FieldAddr       = "addr"
	FieldPrincipal  = "principal_id"
	FieldCloseCode  = "close_code"

	// Protocol fields
	FieldRequestType    = "request_type"
	FieldSessionID      = "session_id"
	FieldResultID       = "result_id"
	FieldDetailID       = "detail_id"
	FieldSubscriptionID = "subscription_id"
	FieldResultType     = "result_type"
	FieldDomain         = "domain"
	FieldKind           = "kind"
	FieldClass          = "class"

	// Broker fields
	FieldChannel = "channel"
	FieldBroker  = "broker"

	// Store fields
	FieldCollection = "collection"
	FieldStore      = "store"

	// Operation fields
	FieldOperation = "operation"
	FieldReason    = "reason"
	FieldResult    = "result"

	// Timing and sizes
	FieldDuration = "duration"
	FieldCount    = "count"
	FieldSize     = "size"
	FieldAttempt  = "attempt"
)

// Component name constants for the "component" field.
const (
	ComponentService        = "rapd_relay"
	ComponentWebsocket      = "ws_server"
	ComponentHandler        = "session_handler"
	ComponentRegistry       = "conn_registry"
	ComponentRouter         = "fanout_router"
	ComponentIngest         = "event_ingest"
	ComponentBindingCache   = "binding_cache"
	ComponentStore          = "query_gateway"
	ComponentVerifier       = "token_verifier"
	ComponentSecretFile     = "secret_file"
	ComponentPresence       = "presence_tracker"
	ComponentRedisClient    = "redis_client"
	ComponentRedisSubscribe = "redis_subscriber"
	ComponentNATSSubscribe  = "nats_subscriber"
	ComponentObservability  = "observability_server"
	ComponentRedisHealth    = "redis_health_monitor"
)

// Operation result constants for the "result" field.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
	ResultTimeout = "timeout"
)
