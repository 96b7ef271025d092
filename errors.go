package gobayeux

import (
	"fmt"
	"time"
)

const (
	// ErrClientNotConnected is echoed back on messages sent while the session
	// is not connected
	ErrClientNotConnected = sentinel("client not connected to server")

	// ErrClientDisconnected is echoed back on messages still queued when the
	// session reaches the disconnected state
	ErrClientDisconnected = sentinel("client disconnected")

	// ErrTransportAborted is reported for every exchange cancelled by Abort
	ErrTransportAborted = sentinel("transport aborted")

	// ErrNoTransport is returned when no transport could be negotiated with
	// the server or none is registered
	ErrNoTransport = sentinel("no transport available")

	// ErrNoSupportedConnectionTypes is returned when the client and server
	// aren't able to agree on a connection type
	ErrNoSupportedConnectionTypes = sentinel("no supported connection types provided")

	// ErrNoVersion is returned when a version is not provided
	ErrNoVersion = sentinel("no version specified")

	// ErrMissingConnectionType is returned when the connection type is unset
	ErrMissingConnectionType = sentinel("missing connectionType value")
)

type sentinel string

func (s sentinel) Error() string {
	return string(s)
}

// ProtocolError is reported when a response was received but does not look
// like a batch of Bayeux messages
type ProtocolError struct {
	Info string
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("bayeux protocol error: %s", e.Info)
}

// TransportError wraps an I/O failure of an exchange
type TransportError struct {
	URL string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("exchange with %s failed (%s)", e.URL, e.Err)
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// ExpiredError is reported when an exchange got no response within its
// deadline
type ExpiredError struct {
	URL     string
	Timeout time.Duration
}

func (e ExpiredError) Error() string {
	return fmt.Sprintf("exchange with %s expired after %s", e.URL, e.Timeout)
}

// BadStateError describes a transition refused by the session state
// machine. Refused transitions are never returned to callers; they are only
// logged.
type BadStateError struct {
	CurrentState State
	ToState      State
}

func (e BadStateError) Error() string {
	return fmt.Sprintf("invalid state transition (current: %s, to: %s)", e.CurrentState, e.ToState)
}

// AlreadyRegisteredError signifies that the given Extension is already
// registered with the client
type AlreadyRegisteredError struct {
	Extension
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("extension already registered: %T", e.Extension)
}

// BadResponseError is returned when we get an unexpected HTTP response from the server
type BadResponseError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e BadResponseError) Error() string {
	return fmt.Sprintf(
		"expected 200 response from bayeux server, got %d with status '%s' and body '%s'",
		e.StatusCode,
		e.Status,
		e.Body,
	)
}

// BadConnectionTypeError is returned when we don't know how to handle the
// requested connection type
type BadConnectionTypeError struct {
	ConnectionType string
}

func (e BadConnectionTypeError) Error() string {
	return fmt.Sprintf("%q is not a valid connection type", e.ConnectionType)
}

// BadConnectionVersionError is returned when we can't support the requested
// version number
type BadConnectionVersionError struct {
	Version string
}

func (e BadConnectionVersionError) Error() string {
	return fmt.Sprintf("version %q is invalid for Bayeux protocol", e.Version)
}

// InvalidChannelError is the result of a failure to validate a channel name
type InvalidChannelError struct {
	Channel
}

func (e InvalidChannelError) Error() string {
	return fmt.Sprintf("channel %q appears to not be a valid channel", e.Channel)
}

// EmptySliceError is returned when an empty slice is unexpected
type EmptySliceError string

func (e EmptySliceError) Error() string {
	return fmt.Sprintf("no %s provided", string(e))
}

// ErrMessageUnparsable is returned when we fail to parse a message
type ErrMessageUnparsable string

func (e ErrMessageUnparsable) Error() string {
	return fmt.Sprintf("error message not parseable: %s", string(e))
}

// UnknownOptionError is returned by WithOptionsMap for keys it does not
// recognize
type UnknownOptionError struct {
	Key string
}

func (e UnknownOptionError) Error() string {
	return fmt.Sprintf("unknown option %q", e.Key)
}

// InvalidOptionError describes an option value outside its allowed range
type InvalidOptionError struct {
	Name  string
	Value interface{}
}

func (e InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid value %v for option %s", e.Value, e.Name)
}

// MessageFailedError is delivered to the high-level client when a message
// comes back with successful=false
type MessageFailedError struct {
	Channel Channel
	Err     string
}

func (e MessageFailedError) Error() string {
	return fmt.Sprintf("%s failed (%s)", e.Channel, e.Err)
}

// HandshakeFailedError is reported by the high-level client when the server
// refuses the handshake
type HandshakeFailedError struct {
	Err error
}

func (e HandshakeFailedError) Error() string {
	return e.Err.Error()
}

func (e HandshakeFailedError) Unwrap() error {
	return e.Err
}

// ConnectionFailedError is reported when a /meta/connect comes back
// unsuccessful
type ConnectionFailedError struct {
	Err error
}

func (e ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection failed (%s)", e.Err)
}

func (e ConnectionFailedError) Unwrap() error {
	return e.Err
}

// SubscriptionFailedError is reported when the server refuses a subscription
type SubscriptionFailedError struct {
	Channels []Channel
	Err      error
}

func (e SubscriptionFailedError) Error() string {
	return fmt.Sprintf("subscription failed (%s)", e.Err)
}

func (e SubscriptionFailedError) Unwrap() error {
	return e.Err
}

// UnsubscribeFailedError is reported when the server refuses an unsubscribe
type UnsubscribeFailedError struct {
	Channels []Channel
	Err      error
}

func (e UnsubscribeFailedError) Error() string {
	return fmt.Sprintf("unsubscribe failed (%s)", e.Err)
}

func (e UnsubscribeFailedError) Unwrap() error {
	return e.Err
}

// DisconnectFailedError is returned when the session could not be closed
// cleanly
type DisconnectFailedError struct {
	Err error
}

func (e DisconnectFailedError) Error() string {
	msg := "unable to disconnect from Bayeux server"

	if e.Err == nil {
		return msg
	}

	return fmt.Sprintf("%s (%s)", msg, e.Err)
}

func (e DisconnectFailedError) Unwrap() error {
	return e.Err
}
