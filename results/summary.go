package results

import (
	"time"
)

// Summary is the list-view projection of a result, pushed in "results" frames.
type Summary struct {
	ID            string    `json:"_id"`
	DataType      string    `json:"data_type"`
	ParentID      string    `json:"parent_id,omitempty"`
	PluginID      string    `json:"plugin_id"`
	PluginType    string    `json:"plugin_type"`
	PluginVersion string    `json:"plugin_version"`
	Projects      []string  `json:"projects"`
	Repr          string    `json:"repr"`
	ResultID      string    `json:"result_id"`
	DetailID      string    `json:"detail_id"`
	ResultType    string    `json:"result_type"`
	SessionID     string    `json:"session_id"`
	Spoof         bool      `json:"spoof"`
	Status        int       `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// Summarize builds the summary projection. The heavy detail payload is not
// carried; DetailID points at the record a client can fetch with
// get_result_details.
func (e *Envelope) Summarize() Summary {
	return Summary{
		ID:            e.ResultID,
		DataType:      e.Plugin.Domain,
		ParentID:      e.ParentID,
		PluginID:      e.Plugin.ID,
		PluginType:    e.Plugin.Kind,
		PluginVersion: e.Plugin.Version,
		Projects:      []string{},
		Repr:          e.Repr,
		ResultID:      e.ResultID,
		DetailID:      e.DetailID,
		ResultType:    e.Plugin.ResultType(),
		SessionID:     e.SessionID,
		Spoof:         e.Spoof,
		Status:        e.Status,
		Timestamp:     e.Timestamp,
	}
}

// Detail returns a copy of the raw envelope suitable for population and
// pushing as a "result_details" payload. Echo envelopes have no detail.
func (e *Envelope) Detail() map[string]any {
	if e.Raw == nil {
		return nil
	}
	return cloneMap(e.Raw)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}
		return out
	default:
		return v
	}
}
