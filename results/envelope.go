// Package results decodes result envelopes from the processing pipeline and
// derives the projections pushed to clients.
package results

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

var (
	// ErrDecode marks a malformed envelope or client frame.
	ErrDecode = errors.New("decode error")

	// ErrUnknownClass is returned for a data_type outside the class taxonomy.
	ErrUnknownClass = errors.New("unknown result class")
)

// CommandEcho is the liveness probe the pipeline publishes. It is never forwarded.
const CommandEcho = "ECHO"

// PluginIdentity names the plugin that produced a result.
type PluginIdentity struct {
	// Domain is the lowercased data type, e.g. "mx".
	Domain string
	// Kind is the lowercased plugin type, e.g. "integrate".
	Kind    string
	Version string
	ID      string
}

// ResultType returns "<domain>:<kind>".
func (p PluginIdentity) ResultType() string {
	return p.Domain + ":" + p.Kind
}

// Envelope is one decoded broker message.
type Envelope struct {
	// DetailID is the envelope's own "_id": the id of the detail record.
	DetailID string
	Command  string

	ResultID  string
	SessionID string
	ParentID  string
	Parent    *PluginIdentity
	Plugin    PluginIdentity

	Status    int
	Repr      string
	Spoof     bool
	Timestamp time.Time

	Image1ID string
	Image2ID string

	// Raw is the full decoded document; the detail projection is built from it.
	Raw map[string]any
}

type wirePlugin struct {
	DataType   string `json:"data_type"`
	Type       string `json:"type"`
	PluginType string `json:"plugin_type"`
	Version    any    `json:"version"`
	ID         any    `json:"id"`
}

func (w *wirePlugin) identity() PluginIdentity {
	kind := w.PluginType
	if kind == "" {
		kind = w.Type
	}
	return PluginIdentity{
		Domain:  strings.ToLower(w.DataType),
		Kind:    strings.ToLower(kind),
		Version: scalarString(w.Version),
		ID:      scalarString(w.ID),
	}
}

type wireProcess struct {
	SessionID any         `json:"session_id"`
	ResultID  any         `json:"result_id"`
	ParentID  any         `json:"parent_id"`
	Parent    *wirePlugin `json:"parent"`
	Status    int         `json:"status"`
	Repr      string      `json:"repr"`
	Spoof     bool        `json:"spoof"`
	Timestamp string      `json:"timestamp"`
	Image1ID  any         `json:"image1_id"`
	Image2ID  any         `json:"image2_id"`
}

type wireEnvelope struct {
	ID      any          `json:"_id"`
	Command string       `json:"command"`
	Process *wireProcess `json:"process"`
	Plugin  *wirePlugin  `json:"plugin"`
}

// Decode parses a broker payload. now stamps envelopes that carry no timestamp.
// An ECHO envelope decodes successfully with only Command set.
func Decode(payload []byte, now time.Time) (*Envelope, error) {
	var wire wireEnvelope
	if err := sonic.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	env := &Envelope{
		DetailID: scalarString(wire.ID),
		Command:  wire.Command,
	}
	if env.IsEcho() {
		return env, nil
	}

	if wire.Process == nil {
		return nil, fmt.Errorf("%w: envelope has no process section", ErrDecode)
	}
	if wire.Plugin == nil {
		return nil, fmt.Errorf("%w: envelope has no plugin section", ErrDecode)
	}

	p := wire.Process
	env.SessionID = scalarString(p.SessionID)
	env.ResultID = scalarString(p.ResultID)
	if env.SessionID == "" {
		return nil, fmt.Errorf("%w: result has no session_id", ErrDecode)
	}
	if env.ResultID == "" {
		return nil, fmt.Errorf("%w: result has no result_id", ErrDecode)
	}

	env.Plugin = wire.Plugin.identity()
	env.ParentID = scalarString(p.ParentID)
	if p.Parent != nil {
		parent := p.Parent.identity()
		env.Parent = &parent
	}
	env.Status = p.Status
	env.Repr = p.Repr
	env.Spoof = p.Spoof
	env.Image1ID = scalarString(p.Image1ID)
	env.Image2ID = scalarString(p.Image2ID)

	env.Timestamp = now.UTC()
	if p.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
			env.Timestamp = ts.UTC()
		}
	}

	raw := map[string]any{}
	if err := sonic.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	env.Raw = raw

	return env, nil
}

// IsEcho reports whether the envelope is a liveness probe.
func (e *Envelope) IsEcho() bool {
	return strings.EqualFold(e.Command, CommandEcho)
}

// scalarString renders ids that may arrive as strings, numbers or
// {"$oid": "..."} objects.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		if oid, ok := t["$oid"].(string); ok {
			return oid
		}
		return ""
	case float64:
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprint(t)
	}
}
