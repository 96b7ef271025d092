package gobayeux

import "time"

// State is a step in the lifecycle of a Bayeux session
//
// See also: https://docs.cometd.org/current/reference/#_client_state_table
type State int

const (
	// StateInvalid is returned by WaitFor when none of the requested states
	// was reached in time
	StateInvalid State = iota
	// StateDisconnected is the initial and terminal state
	StateDisconnected
	// StateHandshaking means a /meta/handshake is in flight
	StateHandshaking
	// StateRehandshaking means a new handshake is scheduled after a failure
	StateRehandshaking
	// StateConnecting means the handshake succeeded and the first
	// /meta/connect is scheduled or in flight
	StateConnecting
	// StateConnected means the last /meta/connect succeeded
	StateConnected
	// StateUnconnected means the last /meta/connect failed and another one
	// is scheduled
	StateUnconnected
	// StateDisconnecting means a /meta/disconnect is in flight
	StateDisconnecting
)

var stateNames = map[State]string{
	StateInvalid:       "INVALID",
	StateDisconnected:  "DISCONNECTED",
	StateHandshaking:   "HANDSHAKING",
	StateRehandshaking: "REHANDSHAKING",
	StateConnecting:    "CONNECTING",
	StateConnected:     "CONNECTED",
	StateUnconnected:   "UNCONNECTED",
	StateDisconnecting: "DISCONNECTING",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// allowedTransitions lists, per state, the states it may be replaced by.
// Anything else is a stale operation and gets discarded.
var allowedTransitions = map[State][]State{
	StateDisconnected:  {StateHandshaking},
	StateHandshaking:   {StateRehandshaking, StateConnecting, StateDisconnected},
	StateRehandshaking: {StateConnecting, StateRehandshaking, StateDisconnected},
	StateConnecting:    {StateConnected, StateUnconnected, StateRehandshaking, StateDisconnecting, StateDisconnected},
	StateConnected:     {StateConnected, StateUnconnected, StateRehandshaking, StateDisconnecting, StateDisconnected},
	StateUnconnected:   {StateConnected, StateUnconnected, StateRehandshaking, StateDisconnected},
	StateDisconnecting: {StateDisconnected},
}

// clientState is an immutable snapshot of the session. Every transition
// builds a new snapshot; an installed snapshot is never modified.
type clientState struct {
	state           State
	aborted         bool
	handshakeFields map[string]interface{}
	advice          map[string]interface{}
	transport       Transport
	clientID        string
	backoff         time.Duration
}

func disconnectedState(transport Transport) *clientState {
	return &clientState{state: StateDisconnected, transport: transport}
}

func abortedState(transport Transport) *clientState {
	return &clientState{state: StateDisconnected, aborted: true, transport: transport}
}

func handshakingState(fields map[string]interface{}, transport Transport) *clientState {
	return &clientState{state: StateHandshaking, handshakeFields: fields, transport: transport}
}

func rehandshakingState(fields map[string]interface{}, transport Transport, backoff time.Duration) *clientState {
	return &clientState{state: StateRehandshaking, handshakeFields: fields, transport: transport, backoff: backoff}
}

func connectingState(fields, advice map[string]interface{}, transport Transport, clientID string) *clientState {
	return &clientState{
		state:           StateConnecting,
		handshakeFields: fields,
		advice:          advice,
		transport:       transport,
		clientID:        clientID,
	}
}

func connectedState(fields, advice map[string]interface{}, transport Transport, clientID string) *clientState {
	return &clientState{
		state:           StateConnected,
		handshakeFields: fields,
		advice:          advice,
		transport:       transport,
		clientID:        clientID,
	}
}

func unconnectedState(fields, advice map[string]interface{}, transport Transport, clientID string, backoff time.Duration) *clientState {
	return &clientState{
		state:           StateUnconnected,
		handshakeFields: fields,
		advice:          advice,
		transport:       transport,
		clientID:        clientID,
		backoff:         backoff,
	}
}

func disconnectingState(transport Transport, clientID string) *clientState {
	return &clientState{state: StateDisconnecting, transport: transport, clientID: clientID}
}

func (cs *clientState) canTransitionTo(next *clientState) bool {
	for _, allowed := range allowedTransitions[cs.state] {
		if allowed == next.state {
			return true
		}
	}
	return false
}

func (cs *clientState) isHandshook() bool {
	switch cs.state {
	case StateConnecting, StateConnected, StateUnconnected:
		return true
	}
	return false
}

func (cs *clientState) isHandshaking() bool {
	return cs.state == StateHandshaking || cs.state == StateRehandshaking
}

func (cs *clientState) isDisconnected() bool {
	return cs.state == StateDisconnected || cs.state == StateDisconnecting
}

// interval is the advised pause between two /meta/connect requests
func (cs *clientState) interval() time.Duration {
	d, _ := adviceDuration(cs.advice, adviceInterval)
	return d
}

// nextBackoff advances the backoff by increment, capped at maximum
func nextBackoff(current, increment, maximum time.Duration) time.Duration {
	next := current + increment
	if next > maximum {
		return maximum
	}
	return next
}
