package relay

import (
	"time"
)

// RFC 6455 close codes the relay sends.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	ClosePolicyViolation = 1008
	CloseMessageTooBig   = 1009
	CloseInternalError   = 1011
	CloseServiceRestart  = 1012
)

const (
	// closeGrace is how long a close frame is given to reach the peer.
	closeGrace = time.Second
)

// closeCodeName returns a human-readable name for a websocket close code.
func closeCodeName(code int) string {
	switch code {
	case CloseNormalClosure:
		return "NormalClosure"
	case CloseGoingAway:
		return "GoingAway"
	case CloseProtocolError:
		return "ProtocolError"
	case ClosePolicyViolation:
		return "PolicyViolation"
	case CloseMessageTooBig:
		return "MessageTooBig"
	case CloseInternalError:
		return "InternalError"
	case CloseServiceRestart:
		return "ServiceRestart"
	default:
		return "Unknown"
	}
}
