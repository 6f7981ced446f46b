//go:build test

package testutil

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// EnvelopeBuilder provides a fluent API for building broker envelopes as the
// processing pipeline publishes them on RAPD_RESULTS. The same seed always
// produces the same ids.
//
// Usage:
//
//	payload := testutil.NewEnvelopeBuilder(1).
//	    WithSession("sess-1").
//	    WithResultID("r-1").
//	    WithPlugin("MX", "INTEGRATE").
//	    Bytes()
type EnvelopeBuilder struct {
	seed int

	echo      bool
	detailID  *string
	resultID  *string
	sessionID *string
	domain    string
	kind      string
	version   string
	status    int
	repr      string
	timestamp string

	parentID   string
	parentType [2]string

	image1, image2     string
	analysis, pdbquery string
}

// NewEnvelopeBuilder creates a builder for an MX INTEGRATE result with status 1.
func NewEnvelopeBuilder(seed int) *EnvelopeBuilder {
	return &EnvelopeBuilder{
		seed:    seed,
		domain:  "MX",
		kind:    "INTEGRATE",
		version: "2.0.0",
		status:  1,
	}
}

// Echo makes the envelope a liveness probe.
func (b *EnvelopeBuilder) Echo() *EnvelopeBuilder {
	b.echo = true
	return b
}

// WithDetailID sets the envelope's own "_id".
func (b *EnvelopeBuilder) WithDetailID(id string) *EnvelopeBuilder {
	b.detailID = &id
	return b
}

// WithResultID sets process.result_id.
func (b *EnvelopeBuilder) WithResultID(id string) *EnvelopeBuilder {
	b.resultID = &id
	return b
}

// WithSession sets process.session_id. An empty id omits the field.
func (b *EnvelopeBuilder) WithSession(id string) *EnvelopeBuilder {
	b.sessionID = &id
	return b
}

// WithPlugin sets plugin.data_type and plugin.type.
func (b *EnvelopeBuilder) WithPlugin(domain, kind string) *EnvelopeBuilder {
	b.domain, b.kind = domain, kind
	return b
}

// WithStatus sets process.status.
func (b *EnvelopeBuilder) WithStatus(status int) *EnvelopeBuilder {
	b.status = status
	return b
}

// WithRepr sets process.repr.
func (b *EnvelopeBuilder) WithRepr(repr string) *EnvelopeBuilder {
	b.repr = repr
	return b
}

// WithTimestamp sets process.timestamp (RFC 3339).
func (b *EnvelopeBuilder) WithTimestamp(ts string) *EnvelopeBuilder {
	b.timestamp = ts
	return b
}

// WithParent sets process.parent_id and process.parent.
func (b *EnvelopeBuilder) WithParent(id, domain, kind string) *EnvelopeBuilder {
	b.parentID = id
	b.parentType = [2]string{domain, kind}
	return b
}

// WithImages sets process.image1_id and process.image2_id.
func (b *EnvelopeBuilder) WithImages(image1, image2 string) *EnvelopeBuilder {
	b.image1, b.image2 = image1, image2
	return b
}

// WithChildren sets results.analysis and results.pdbquery child ids.
func (b *EnvelopeBuilder) WithChildren(analysis, pdbquery string) *EnvelopeBuilder {
	b.analysis, b.pdbquery = analysis, pdbquery
	return b
}

// Build returns the envelope as a generic document.
func (b *EnvelopeBuilder) Build() map[string]any {
	detailID := fmt.Sprintf("detail-%04d", b.seed)
	if b.detailID != nil {
		detailID = *b.detailID
	}

	if b.echo {
		return map[string]any{"_id": detailID, "command": "ECHO"}
	}

	resultID := fmt.Sprintf("result-%04d", b.seed)
	if b.resultID != nil {
		resultID = *b.resultID
	}
	sessionID := fmt.Sprintf("session-%04d", b.seed)
	if b.sessionID != nil {
		sessionID = *b.sessionID
	}
	repr := b.repr
	if repr == "" {
		repr = fmt.Sprintf("sample_%d_1_[1-1800].cbf", b.seed)
	}

	process := map[string]any{
		"result_id": resultID,
		"status":    b.status,
		"repr":      repr,
		"spoof":     false,
	}
	if sessionID != "" {
		process["session_id"] = sessionID
	}
	if b.timestamp != "" {
		process["timestamp"] = b.timestamp
	}
	if b.parentID != "" {
		process["parent_id"] = b.parentID
		process["parent"] = map[string]any{
			"data_type":   b.parentType[0],
			"plugin_type": b.parentType[1],
		}
	}
	if b.image1 != "" {
		process["image1_id"] = b.image1
	}
	if b.image2 != "" {
		process["image2_id"] = b.image2
	}

	resultsSection := map[string]any{
		"summary": map[string]any{"resolution": 1.8},
	}
	if b.analysis != "" {
		resultsSection["analysis"] = b.analysis
	}
	if b.pdbquery != "" {
		resultsSection["pdbquery"] = b.pdbquery
	}

	return map[string]any{
		"_id":     detailID,
		"command": strings.ToUpper(b.kind),
		"plugin": map[string]any{
			"data_type": b.domain,
			"type":      b.kind,
			"version":   b.version,
			"id":        fmt.Sprintf("plugin-%04d", b.seed),
		},
		"process": process,
		"results": resultsSection,
	}
}

// Bytes returns the JSON-encoded envelope.
func (b *EnvelopeBuilder) Bytes() []byte {
	out, err := sonic.Marshal(b.Build())
	if err != nil {
		panic(fmt.Sprintf("failed to encode envelope: %v", err))
	}
	return out
}
