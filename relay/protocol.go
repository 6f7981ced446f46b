package relay

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/RAPD/rapd-relay/results"
)

// Client request types.
const (
	RequestInitialize       = "initialize"
	RequestSetSession       = "set_session"
	RequestUnsetSession     = "unset_session"
	RequestGetResults       = "get_results"
	RequestGetResultDetails = "get_result_details"
	RequestUpdateResult     = "update_result"
)

// Server message types.
const (
	MsgInitialize    = "initialize"
	MsgResults       = "results"
	MsgResultDetails = "result_details"
	MsgFailure       = "failure"
)

// KeepaliveFrame is the literal text frame sent periodically. Clients ignore
// it without JSON parsing.
var KeepaliveFrame = []byte("ping")

// Request is a decoded client frame. Field names accepted for
// get_result_details cover both the current and the legacy UI.
type Request struct {
	RequestType string `json:"request_type"`

	Token     string `json:"token,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// DataType is "<domain>:<class>" for get_results; legacy UIs also send
	// the bare domain here for get_result_details.
	DataType string `json:"data_type,omitempty"`

	Domain         string `json:"domain,omitempty"`
	PluginKind     string `json:"plugin_kind,omitempty"`
	PluginType     string `json:"plugin_type,omitempty"`
	ResultID       string `json:"result_id,omitempty"`
	LegacyID       string `json:"_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	ResultType     string `json:"result_type,omitempty"`

	Result map[string]any `json:"result,omitempty"`
}

// DecodeRequest parses a client frame.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := sonic.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", results.ErrDecode, err)
	}
	if req.RequestType == "" {
		return nil, fmt.Errorf("%w: missing request_type", results.ErrDecode)
	}
	return &req, nil
}

// DetailTarget returns the (domain, kind, resultID, subscriptionID) a
// get_result_details request addresses, falling back to legacy field names.
// A missing subscription id defaults to the result type, then the result id.
func (r *Request) DetailTarget() DetailKey {
	key := DetailKey{
		Domain:         firstNonEmpty(r.Domain, r.DataType),
		PluginKind:     firstNonEmpty(r.PluginKind, r.PluginType),
		ResultID:       firstNonEmpty(r.ResultID, r.LegacyID),
		SubscriptionID: r.SubscriptionID,
	}
	if key.SubscriptionID == "" {
		key.SubscriptionID = firstNonEmpty(r.ResultType, key.ResultID)
	}
	return key
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type statusFrame struct {
	MsgType     string `json:"msg_type"`
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	RequestType string `json:"request_type,omitempty"`
}

type resultsFrame struct {
	MsgType string `json:"msg_type"`
	Results []any  `json:"results"`
}

type detailFrame struct {
	MsgType        string         `json:"msg_type"`
	Success        bool           `json:"success"`
	SubscriptionID string         `json:"subscription_id"`
	ResultID       string         `json:"result_id,omitempty"`
	Message        string         `json:"message,omitempty"`
	Results        map[string]any `json:"results,omitempty"`
}

// EncodeInitialized encodes a successful initialize response.
func EncodeInitialized() ([]byte, error) {
	return sonic.Marshal(statusFrame{MsgType: MsgInitialize, Success: true})
}

// EncodeFailure encodes an explicit failure frame.
func EncodeFailure(requestType, message string) ([]byte, error) {
	return sonic.Marshal(statusFrame{
		MsgType:     MsgFailure,
		Success:     false,
		Message:     message,
		RequestType: requestType,
	})
}

// EncodeResults encodes a results frame. A nil list encodes as [].
func EncodeResults(list []any) ([]byte, error) {
	if list == nil {
		list = []any{}
	}
	return sonic.Marshal(resultsFrame{MsgType: MsgResults, Results: list})
}

// EncodeDetail encodes a result_details frame tagged with subscriptionID.
func EncodeDetail(subscriptionID string, detail map[string]any) ([]byte, error) {
	return sonic.Marshal(detailFrame{
		MsgType:        MsgResultDetails,
		Success:        true,
		SubscriptionID: subscriptionID,
		Results:        detail,
	})
}

// EncodeDetailNotFound encodes the explicit "not found" answer to get_result_details.
func EncodeDetailNotFound(subscriptionID, resultID string) ([]byte, error) {
	return sonic.Marshal(detailFrame{
		MsgType:        MsgResultDetails,
		Success:        false,
		SubscriptionID: subscriptionID,
		ResultID:       resultID,
		Message:        "not found",
	})
}
