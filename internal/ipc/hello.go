package ipc

import "time"

// The version hello is a plaintext line exchanged before any TLS handshake
// on the TCP agent transport.

const (
	// ProtocolVersion is the hello protocol generation.
	ProtocolVersion = 2

	// HelloTimeout bounds how long either side waits for the hello line.
	HelloTimeout = 5 * time.Second

	ActionTLSAccept   = "TLS_ACCEPT"
	ActionPlainAccept = "PLAIN_ACCEPT"
	ActionError       = "ERROR"

	CodeTLSRequired      = "TLS_REQUIRED"
	CodeTLSUnavailable   = "TLS_UNAVAILABLE"
	CodeProtocolMismatch = "PROTOCOL_MISMATCH"
)

// Hello is the client's opening line: protocol version and TLS desire.
type Hello struct {
	V   int  `json:"v"`
	TLS bool `json:"tls"`
}

// HelloReply is the server's verdict.
type HelloReply struct {
	V      int    `json:"v"`
	Action string `json:"action"`
	Code   string `json:"code,omitempty"`
}

// NegotiateHello runs the server side of the hello exchange over conn and
// reports whether to proceed with TLS. serverTLS says whether this daemon
// has TLS material; requireTLS forces encrypted transport.
//
// A non-nil error means the connection must be closed; the reply carrying
// the error code has already been sent where possible.
func NegotiateHello(conn *Conn, serverTLS, requireTLS bool) (useTLS bool, err error) {
	var hello Hello
	if err := conn.ReceiveJSON(&hello, HelloTimeout); err != nil {
		return false, err
	}
	if hello.V != ProtocolVersion {
		_ = conn.SendJSON(HelloReply{V: ProtocolVersion, Action: ActionError, Code: CodeProtocolMismatch})
		return false, &NegotiationError{Code: CodeProtocolMismatch}
	}
	switch {
	case hello.TLS && serverTLS:
		if err := conn.SendJSON(HelloReply{V: ProtocolVersion, Action: ActionTLSAccept}); err != nil {
			return false, err
		}
		return true, nil
	case !hello.TLS && !requireTLS:
		if err := conn.SendJSON(HelloReply{V: ProtocolVersion, Action: ActionPlainAccept}); err != nil {
			return false, err
		}
		return false, nil
	case hello.TLS && !serverTLS:
		_ = conn.SendJSON(HelloReply{V: ProtocolVersion, Action: ActionError, Code: CodeTLSUnavailable})
		return false, &NegotiationError{Code: CodeTLSUnavailable}
	default:
		_ = conn.SendJSON(HelloReply{V: ProtocolVersion, Action: ActionError, Code: CodeTLSRequired})
		return false, &NegotiationError{Code: CodeTLSRequired}
	}
}

// SendHello runs the client side of the hello exchange and returns the
// server's verdict.
func SendHello(conn *Conn, wantTLS bool) (*HelloReply, error) {
	if err := conn.SendJSON(Hello{V: ProtocolVersion, TLS: wantTLS}); err != nil {
		return nil, err
	}
	var reply HelloReply
	if err := conn.ReceiveJSON(&reply, HelloTimeout); err != nil {
		return nil, err
	}
	if reply.Action == ActionError {
		return &reply, &NegotiationError{Code: reply.Code}
	}
	if reply.V != ProtocolVersion {
		return &reply, &NegotiationError{Code: CodeProtocolMismatch}
	}
	return &reply, nil
}

// NegotiationError carries the structured hello failure code so UIs can
// distinguish "server requires TLS" from "server has no TLS".
type NegotiationError struct {
	Code string
}

func (e *NegotiationError) Error() string {
	switch e.Code {
	case CodeTLSRequired:
		return "server requires TLS but the client did not request it"
	case CodeTLSUnavailable:
		return "client requested TLS but the server has no TLS configured"
	case CodeProtocolMismatch:
		return "protocol version mismatch"
	}
	return "TLS negotiation failed: " + e.Code
}
