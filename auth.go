package mqttclient

import (
	"context"
)

// ClientEnhancedAuthContext is the server's side of one authentication step.
type ClientEnhancedAuthContext struct {
	AuthMethod string

	// AuthData is the Authentication Data of the AUTH or CONNACK packet.
	AuthData []byte

	// ReasonCode is ReasonContinueAuth for AUTH and ReasonSuccess for the
	// final CONNACK.
	ReasonCode ReasonCode

	// State is whatever the previous step returned.
	State any
}

// ClientEnhancedAuthResult is the client's answer to one step.
type ClientEnhancedAuthResult struct {
	// Done is informational; the server decides when the exchange ends.
	Done bool

	// AuthData is sent as Authentication Data, omitted when empty.
	AuthData []byte

	// State is passed back on the next step of the same handshake.
	State any
}

// ClientEnhancedAuthenticator drives an MQTT v5 enhanced authentication
// exchange (Section 4.12). A fresh exchange runs on every connection
// attempt, so implementations must not keep per-handshake state outside
// the State value.
//
// The handshake calls AuthStart while building CONNECT, then AuthContinue
// for each AUTH packet with reason Continue Authentication. When the
// successful CONNACK carries Authentication Data, AuthContinue is called
// once more with ReasonSuccess; an error there rejects the server and the
// attempt fails with ErrAuthFailed.
type ClientEnhancedAuthenticator interface {
	// AuthMethod returns the Authentication Method, e.g. "SCRAM-SHA-256".
	AuthMethod() string

	AuthStart(ctx context.Context) (*ClientEnhancedAuthResult, error)

	AuthContinue(ctx context.Context, authCtx *ClientEnhancedAuthContext) (*ClientEnhancedAuthResult, error)
}
