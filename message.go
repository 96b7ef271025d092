package gobayeux

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	timestampFmt = "2006-01-02T15:04:05.00"
)

// Well-known message fields
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_message_fields
const (
	FieldAdvice                   = "advice"
	FieldChannel                  = "channel"
	FieldClientID                 = "clientId"
	FieldConnectionType           = "connectionType"
	FieldData                     = "data"
	FieldError                    = "error"
	FieldExt                      = "ext"
	FieldID                       = "id"
	FieldMinimumVersion           = "minimumVersion"
	FieldSubscription             = "subscription"
	FieldSuccessful               = "successful"
	FieldSupportedConnectionTypes = "supportedConnectionTypes"
	FieldTimestamp                = "timestamp"
	FieldVersion                  = "version"
	// FieldFailedMessage holds the original outbound message on a message
	// synthesized for a failed send.
	FieldFailedMessage = "message"
)

// Advice reconnect values
const (
	ReconnectRetry     = "retry"
	ReconnectHandshake = "handshake"
	ReconnectNone      = "none"
)

const (
	adviceReconnect = "reconnect"
	adviceInterval  = "interval"
	adviceTimeout   = "timeout"
)

// Message is a Bayeux message. It is a plain JSON object whose well-known
// fields are reachable through the accessor methods; anything else a server
// or extension adds is kept as is.
//
// Messages handed to listeners should be treated as read-only.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_message_fields
type Message map[string]interface{}

// NewMessage creates an empty Message for channel
func NewMessage(channel Channel) Message {
	m := make(Message)
	if channel != emptyChannel {
		m.SetChannel(channel)
	}
	return m
}

// ParseMessages decodes a JSON array of messages. Entries that are null are
// skipped; entries without a channel are a protocol error.
func ParseMessages(content []byte) ([]Message, error) {
	var raw []map[string]interface{}
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, ProtocolError{Info: fmt.Sprintf("response is not a message array: %s", err)}
	}
	messages := make([]Message, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		m := Message(r)
		if m.Channel() == emptyChannel {
			return nil, ProtocolError{Info: "message without a channel"}
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Channel is the Channel on which the message was sent
func (m Message) Channel() Channel {
	s, _ := m[FieldChannel].(string)
	return Channel(s)
}

// SetChannel sets the channel field
func (m Message) SetChannel(c Channel) {
	m[FieldChannel] = string(c)
}

// IsMeta reports whether the message travels on a /meta/ channel
func (m Message) IsMeta() bool {
	return m.Channel().Type() == MetaChannel
}

// ID represents the identifier of the specific message
func (m Message) ID() string {
	return stringField(m[FieldID])
}

// SetID sets the id field
func (m Message) SetID(id string) {
	m[FieldID] = id
}

// ClientID identifies a particular session via a session id token
func (m Message) ClientID() string {
	s, _ := m[FieldClientID].(string)
	return s
}

// SetClientID sets the clientId field
func (m Message) SetClientID(id string) {
	m[FieldClientID] = id
}

// Data returns the data field as it was decoded
func (m Message) Data() interface{} {
	return m[FieldData]
}

// SetData sets the data field
func (m Message) SetData(data interface{}) {
	m[FieldData] = data
}

// DataAsMap returns the data field as an object, decoding it first if it is
// still raw JSON. The decoded form replaces the raw one.
func (m Message) DataAsMap() map[string]interface{} {
	return m.materialize(FieldData)
}

// GetDataAsMap is DataAsMap, optionally creating an empty object
func (m Message) GetDataAsMap(create bool) map[string]interface{} {
	return m.getObject(FieldData, create)
}

// Advice returns the advice object, decoding raw JSON on first access
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_advice
func (m Message) Advice() map[string]interface{} {
	return m.materialize(FieldAdvice)
}

// GetAdvice is Advice, optionally creating an empty object
func (m Message) GetAdvice(create bool) map[string]interface{} {
	return m.getObject(FieldAdvice, create)
}

// AdviceFields decodes the advice object into an Advice. ok is false when
// the message carries no advice.
func (m Message) AdviceFields() (advice Advice, ok bool) {
	raw := m.Advice()
	if raw == nil {
		return Advice{}, false
	}
	return decodeAdvice(raw), true
}

// Ext returns the ext object, decoding raw JSON on first access
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_ext
func (m Message) Ext() map[string]interface{} {
	return m.materialize(FieldExt)
}

// GetExt retrieves the Ext field map. If passed `true` it will instantiate it
// if the map is not instantiated, otherwise it will just return the value of
// Ext.
func (m Message) GetExt(create bool) map[string]interface{} {
	return m.getObject(FieldExt, create)
}

// Successful is the successful field; anything but true or "true" is false
func (m Message) Successful() bool {
	switch v := m[FieldSuccessful].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// SetSuccessful sets the successful field
func (m Message) SetSuccessful(ok bool) {
	m[FieldSuccessful] = ok
}

// ErrorString is the error field of a failed response
//
// See also: https://docs.cometd.org/current/reference/#_error
func (m Message) ErrorString() string {
	s, _ := m[FieldError].(string)
	return s
}

// SetError sets the error field
func (m Message) SetError(msg string) {
	m[FieldError] = msg
}

// Subscription is the channel of a /meta/subscribe or /meta/unsubscribe
// message
func (m Message) Subscription() Channel {
	s, _ := m[FieldSubscription].(string)
	return Channel(s)
}

// SupportedConnectionTypes lists the transports of a handshake message
func (m Message) SupportedConnectionTypes() []string {
	switch v := m[FieldSupportedConnectionTypes].(type) {
	case []string:
		return v
	case []interface{}:
		names := make([]string, 0, len(v))
		for _, n := range v {
			if s, ok := n.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}

// Timestamp is the raw timestamp field
func (m Message) Timestamp() string {
	s, _ := m[FieldTimestamp].(string)
	return s
}

// TimestampAsTime returns the Timestamp in a message as a time.Time struct
func (m Message) TimestampAsTime() (time.Time, error) {
	return time.Parse(timestampFmt, m.Timestamp())
}

// ParseError returns a struct representing the error message and parsed as
// defined in the specification.
//
// See also: https://docs.cometd.org/current/reference/#_error
func (m Message) ParseError() (MessageError, error) {
	pieces := strings.SplitN(m.ErrorString(), ":", 3)
	if len(pieces) != 3 {
		return MessageError{}, ErrMessageUnparsable(m.ErrorString())
	}
	errorCode, err := strconv.Atoi(pieces[0])
	if err != nil {
		return MessageError{}, err
	}
	return MessageError{
		errorCode,
		strings.Split(pieces[1], ","),
		pieces[2],
	}, nil
}

// Copy returns a shallow copy of m
func (m Message) Copy() Message {
	c := make(Message, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func (m Message) getObject(field string, create bool) map[string]interface{} {
	obj := m.materialize(field)
	if obj == nil && create {
		obj = make(map[string]interface{})
		m[field] = obj
	}
	return obj
}

// materialize turns the raw JSON held in field into an object and stores
// the object back so later reads skip decoding.
func (m Message) materialize(field string) map[string]interface{} {
	var raw []byte
	switch v := m[field].(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return v
	case Message:
		return v
	case string:
		raw = []byte(v)
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	m[field] = obj
	return obj
}

func stringField(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// Advice represents the field from the server which is used to inform clients
// of their preferred mode of client operation.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_advice
type Advice struct {
	// Reconnect indicates how the client should act in the case of a failure
	// to connect.
	//
	// See also: https://docs.cometd.org/current/reference/#_reconnect_advice_field
	Reconnect string `json:"reconnect,omitempty" mapstructure:"reconnect"`
	// Timeout represents the period of time, in milliseconds, for the server
	// to delay requests to the `/meta/connect` channel.
	//
	// See also: https://docs.cometd.org/current/reference/#_timeout_advice_field
	Timeout int `json:"timeout,omitempty" mapstructure:"timeout"`
	// Interval represents the minimum period of time, in milliseconds, for the
	// client to delay subsequent requests to the /meta/connect channel.
	//
	// See also: https://docs.cometd.org/current/reference/#_interval_advice_field
	Interval int `json:"interval,omitempty" mapstructure:"interval"`
	// MultipleClients indicates that the server has detected multiple Bayeux
	// client instances running within the same web client
	//
	// See also: https://docs.cometd.org/current/reference/#_bayeux_multiple_clients_advice
	MultipleClients bool `json:"multiple-clients,omitempty" mapstructure:"multiple-clients"`
	// Hosts is an array of strings which if present indicates a list of host
	// names or IP addresses that MAY be used as alternate servers.
	//
	// See also: https://docs.cometd.org/current/reference/#_hosts_advice_field
	Hosts []string `json:"hosts,omitempty" mapstructure:"hosts"`
}

// decodeAdvice is lenient: servers send numbers as strings often enough that
// a failed field leaves its zero value rather than dropping the advice.
func decodeAdvice(raw map[string]interface{}) Advice {
	var advice Advice
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &advice,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return advice
	}
	_ = decoder.Decode(raw)
	return advice
}

// MustNotRetryOrHandshake indicates whether neither a handshake or retry is
// allowed
func (a Advice) MustNotRetryOrHandshake() bool {
	return a.Reconnect == ReconnectNone
}

// ShouldRetry indicates whether a retry should occur
func (a Advice) ShouldRetry() bool {
	return a.Reconnect == ReconnectRetry
}

// ShouldHandshake indicates whether the advice is that a handshake should
// occur
func (a Advice) ShouldHandshake() bool {
	return a.Reconnect == ReconnectHandshake
}

// TimeoutAsDuration returns the Timeout field as a time.Duration for
// scheduling
func (a Advice) TimeoutAsDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Millisecond
}

// IntervalAsDuration returns the Interval field as a time.Duration for
// scheduling
func (a Advice) IntervalAsDuration() time.Duration {
	return time.Duration(a.Interval) * time.Millisecond
}

// adviceAction reads the reconnect value from a raw advice object
func adviceAction(advice map[string]interface{}, fallback string) string {
	if advice == nil {
		return fallback
	}
	if action, ok := advice[adviceReconnect].(string); ok {
		return action
	}
	return fallback
}

// adviceDuration reads a millisecond field from a raw advice object
func adviceDuration(advice map[string]interface{}, field string) (time.Duration, bool) {
	if advice == nil {
		return 0, false
	}
	switch v := advice[field].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return time.Duration(n) * time.Millisecond, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return time.Duration(n) * time.Millisecond, true
	}
	return 0, false
}

// MessageError represents a parsed Error field of a Message
//
// See also: https://docs.cometd.org/current/reference/#_error
type MessageError struct {
	ErrorCode    int
	ErrorArgs    []string
	ErrorMessage string
}

const (
	// ConnectionTypeLongPolling is a constant for the long-polling string
	ConnectionTypeLongPolling string = "long-polling"
	// ConnectionTypeCallbackPolling is a constant for the callback-polling string
	ConnectionTypeCallbackPolling = "callback-polling"
	// ConnectionTypeIFrame is a constant for the iframe string
	ConnectionTypeIFrame = "iframe"
)
