package gobayeux

import (
	"strconv"
	"strings"
)

// BayeuxVersion is the protocol version sent on /meta/handshake
const BayeuxVersion = "1.0"

// HandshakeRequestBuilder provides a way to safely and confidently create
// handshake requests to /meta/handshake.
//
// See also: https://docs.cometd.org/current/reference/#_handshake_request
type HandshakeRequestBuilder struct {
	// Required fields
	version                  string
	supportedConnectionTypes []string
	// Optional fields
	minimumVersion string
	fields         map[string]interface{}
}

// NewHandshakeRequestBuilder provides an easy way to build a Message that can
// be sent as a Handshake Request as documented in
// https://docs.cometd.org/current/reference/#_handshake_request
func NewHandshakeRequestBuilder() *HandshakeRequestBuilder {
	return &HandshakeRequestBuilder{
		supportedConnectionTypes: make([]string, 0),
	}
}

// AddSupportedConnectionType adds a transport name to the list of supported
// connection types for the /meta/handshake request, keeping the order in
// which they were added. Duplicates are ignored.
func (b *HandshakeRequestBuilder) AddSupportedConnectionType(connectionType string) error {
	if err := validateConnectionType(connectionType); err != nil {
		return err
	}
	for _, ct := range b.supportedConnectionTypes {
		if ct == connectionType {
			return nil
		}
	}
	b.supportedConnectionTypes = append(b.supportedConnectionTypes, connectionType)
	return nil
}

// AddVersion accepts the version of the Bayeux protocol that the client
// supports.
func (b *HandshakeRequestBuilder) AddVersion(version string) error {
	if err := validateVersion(version); err != nil {
		return err
	}
	b.version = version
	return nil
}

// AddMinimumVersion adds the minimum supported version
func (b *HandshakeRequestBuilder) AddMinimumVersion(version string) error {
	if err := validateVersion(version); err != nil {
		return err
	}
	b.minimumVersion = version
	return nil
}

// AddFields copies application supplied fields (authentication data, ext
// entries) into the request. Protocol fields set by the builder win.
func (b *HandshakeRequestBuilder) AddFields(fields map[string]interface{}) {
	if len(fields) == 0 {
		return
	}
	if b.fields == nil {
		b.fields = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		b.fields[k] = v
	}
}

// Build generates the final Message to be sent as a Handshake Request
func (b *HandshakeRequestBuilder) Build() ([]Message, error) {
	if len(b.supportedConnectionTypes) < 1 {
		return nil, ErrNoSupportedConnectionTypes
	}
	if len(b.version) == 0 {
		return nil, ErrNoVersion
	}
	m := make(Message, len(b.fields)+4)
	for k, v := range b.fields {
		m[k] = v
	}
	// extensions write into ext on every handshake; keep the caller's map intact
	if ext, ok := b.fields[FieldExt].(map[string]interface{}); ok {
		copied := make(map[string]interface{}, len(ext))
		for k, v := range ext {
			copied[k] = v
		}
		m[FieldExt] = copied
	}
	m.SetChannel(MetaHandshake)
	m[FieldVersion] = b.version
	m[FieldSupportedConnectionTypes] = append([]string(nil), b.supportedConnectionTypes...)
	if len(b.minimumVersion) > 0 {
		m[FieldMinimumVersion] = b.minimumVersion
	}
	return []Message{m}, nil
}

// ConnectRequestBuilder provides a way to safely build a Message that can be
// sent as a /meta/connect request as documented in
// https://docs.cometd.org/current/reference/#_connect_request
type ConnectRequestBuilder struct {
	clientID       string
	connectionType string
	timeout        *int
}

// NewConnectRequestBuilder initializes a ConnectRequestBuilder as an easy way
// to build a Message that can be sent as a /meta/connect request.
//
// See also: https://docs.cometd.org/current/reference/#_connect_request
func NewConnectRequestBuilder() *ConnectRequestBuilder {
	return &ConnectRequestBuilder{}
}

// AddClientID adds the previously provided clientId to the request. The
// session fills it in at send time when it is left empty.
func (b *ConnectRequestBuilder) AddClientID(clientID string) {
	b.clientID = clientID
}

// AddConnectionType adds the connection type used by the client for the
// purposes of this connection to the request
func (b *ConnectRequestBuilder) AddConnectionType(connectionType string) error {
	if err := validateConnectionType(connectionType); err != nil {
		return err
	}
	b.connectionType = connectionType
	return nil
}

// AddTimeoutAdvice asks the server to hold the connect for at most ms
// milliseconds. The first connect after a handshake or a failure uses 0 so
// the server answers right away.
func (b *ConnectRequestBuilder) AddTimeoutAdvice(ms int) {
	b.timeout = &ms
}

// Build generates the final Message to be sent as a Connect Request
func (b *ConnectRequestBuilder) Build() ([]Message, error) {
	if b.connectionType == "" {
		return nil, ErrMissingConnectionType
	}

	m := NewMessage(MetaConnect)
	m[FieldConnectionType] = b.connectionType
	if b.clientID != "" {
		m.SetClientID(b.clientID)
	}
	if b.timeout != nil {
		m.GetAdvice(true)[adviceTimeout] = *b.timeout
	}
	return []Message{m}, nil
}

// SubscribeRequestBuilder provides an easy way to build a /meta/subscribe
// request per the specification in
// https://docs.cometd.org/current/reference/#_subscribe_request
type SubscribeRequestBuilder struct {
	subscriptionBuilder
}

// NewSubscribeRequestBuilder initializes a SubscribeRequestBuilder as an easy
// way to build a Message that can be sent as a /meta/subscribe request. See
// also https://docs.cometd.org/current/reference/#_subscribe_request
func NewSubscribeRequestBuilder() *SubscribeRequestBuilder {
	return &SubscribeRequestBuilder{subscriptionBuilder{channel: MetaSubscribe}}
}

// UnsubscribeRequestBuilder provides an easy way to build a /meta/unsubscribe
// request per the specification in
// https://docs.cometd.org/current/reference/#_unsubscribe_request
type UnsubscribeRequestBuilder struct {
	subscriptionBuilder
}

// NewUnsubscribeRequestBuilder initializes an UnsubscribeRequestBuilder as an
// easy way to build a Message that can be sent as a /meta/unsubscribe
// request.
func NewUnsubscribeRequestBuilder() *UnsubscribeRequestBuilder {
	return &UnsubscribeRequestBuilder{subscriptionBuilder{channel: MetaUnsubscribe}}
}

type subscriptionBuilder struct {
	channel      Channel
	clientID     string
	subscription []Channel
}

// AddClientID adds the previously provided clientId to the request
func (b *subscriptionBuilder) AddClientID(clientID string) {
	b.clientID = clientID
}

// AddSubscription adds a given channel to the request. Channels are
// de-duplicated.
func (b *subscriptionBuilder) AddSubscription(c Channel) error {
	if !c.IsValid() {
		return InvalidChannelError{c}
	}

	for _, s := range b.subscription {
		if s == c {
			return nil
		}
	}
	b.subscription = append(b.subscription, c)
	return nil
}

// Build generates one message per subscription
func (b *subscriptionBuilder) Build() ([]Message, error) {
	if len(b.subscription) < 1 {
		return nil, EmptySliceError("subscriptions")
	}

	ms := make([]Message, len(b.subscription))
	for i := range b.subscription {
		m := NewMessage(b.channel)
		m[FieldSubscription] = string(b.subscription[i])
		if b.clientID != "" {
			m.SetClientID(b.clientID)
		}
		ms[i] = m
	}
	return ms, nil
}

// DisconnectRequestBuilder provides an easy way to build a /meta/disconnect
// request per the specification in
// https://docs.cometd.org/current/reference/#_bayeux_meta_disconnect
type DisconnectRequestBuilder struct {
	clientID string
}

// NewDisconnectRequestBuilder initializes a DisconnectRequestBuilder as an
// easy way to build a Message that can be sent as a /meta/disconnect request.
func NewDisconnectRequestBuilder() *DisconnectRequestBuilder {
	return &DisconnectRequestBuilder{}
}

// AddClientID adds the previously provided clientId to the request
func (b *DisconnectRequestBuilder) AddClientID(clientID string) {
	b.clientID = clientID
}

// Build generates the final Message to be sent as a Disconnect Request
func (b *DisconnectRequestBuilder) Build() ([]Message, error) {
	m := NewMessage(MetaDisconnect)
	if b.clientID != "" {
		m.SetClientID(b.clientID)
	}
	return []Message{m}, nil
}

// PublishRequestBuilder builds a message published on a broadcast or service
// channel.
//
// See also: https://docs.cometd.org/current/reference/#_publish_request
type PublishRequestBuilder struct {
	channel Channel
	data    interface{}
	id      string
}

// NewPublishRequestBuilder starts a publish request
func NewPublishRequestBuilder() *PublishRequestBuilder {
	return &PublishRequestBuilder{}
}

// AddChannel sets the destination. Meta and wildcard channels are rejected.
func (b *PublishRequestBuilder) AddChannel(c Channel) error {
	id, err := ParseChannelID(string(c))
	if err != nil {
		return err
	}
	if id.IsWild() || id.IsMeta() {
		return InvalidChannelError{c}
	}
	b.channel = c
	return nil
}

// AddData sets the payload
func (b *PublishRequestBuilder) AddData(data interface{}) {
	b.data = data
}

// AddID sets an application chosen message id
func (b *PublishRequestBuilder) AddID(id string) {
	b.id = id
}

// Build generates the final Message to be published
func (b *PublishRequestBuilder) Build() ([]Message, error) {
	if b.channel == emptyChannel {
		return nil, InvalidChannelError{b.channel}
	}
	m := NewMessage(b.channel)
	m.SetData(b.data)
	if b.id != "" {
		m.SetID(b.id)
	}
	return []Message{m}, nil
}

func validateConnectionType(connectionType string) error {
	if strings.TrimSpace(connectionType) == "" {
		return BadConnectionTypeError{connectionType}
	}
	return nil
}

func validateVersion(version string) error {
	if len(version) < 1 {
		return BadConnectionVersionError{version}
	}
	pieces := strings.SplitN(version, ".", 2)
	if _, err := strconv.Atoi(pieces[0]); err != nil {
		return BadConnectionVersionError{version}
	}
	return nil
}
