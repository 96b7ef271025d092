package gobayeux

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/net/publicsuffix"
)

// waitRecheck bounds how long WaitFor sleeps before looking at the state
// again
const waitRecheck = 100 * time.Millisecond

// BayeuxClient is a Bayeux session with a server. It handshakes, keeps a
// /meta/connect outstanding, follows the server's reconnect advice and
// delivers incoming messages to channel listeners.
//
// Handshake, Disconnect, Publish and Subscribe never block on the network;
// outcomes are delivered to the listeners of the matching channels.
type BayeuxClient struct {
	serverAddress *url.URL
	options       *Options
	logger        Logger
	jar           http.CookieJar

	transports *TransportRegistry
	channels   *channelRegistry
	extensions extensionPipeline
	scheduler  *scheduler

	handshakeListener  *transportListener
	connectListener    *transportListener
	disconnectListener *transportListener
	publishListener    *transportListener

	messageID atomic.Int64

	// lock guards the current snapshot and the bookkeeping used by WaitFor
	lock    sync.Mutex
	state   *clientState
	updates int
	changed chan struct{}

	queueLock sync.Mutex
	queue     []Message
	batch     int
}

// NewBayeuxClient initializes a BayeuxClient for the user
func NewBayeuxClient(serverAddress string, opts ...Option) (*BayeuxClient, error) {
	parsedAddress, err := url.Parse(serverAddress)
	if err != nil {
		return nil, err
	}
	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	client := options.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}

	b := &BayeuxClient{
		serverAddress: parsedAddress,
		options:       options,
		logger:        options.Logger,
		jar:           client.Jar,
		transports:    NewTransportRegistry(),
		channels:      newChannelRegistry(),
		scheduler:     newScheduler(options.Clock),
		changed:       make(chan struct{}),
	}
	b.handshakeListener = &transportListener{client: b, kind: handshakeExchange}
	b.connectListener = &transportListener{client: b, kind: connectExchange}
	b.disconnectListener = &transportListener{client: b, kind: disconnectExchange}
	b.publishListener = &transportListener{client: b, kind: publishExchange}

	if len(options.Transports) == 0 {
		lp, err := NewLongPollingTransport(serverAddress, LongPollingTransportOptions{
			HTTPClient:             client,
			RoundTripper:           options.HTTPTransport,
			Headers:                options.Headers,
			AppendMessageType:      options.AppendMessageType,
			MaxNetworkDelay:        options.MaxNetworkDelay,
			MaxConcurrentExchanges: options.MaxConcurrentExchanges,
			Logger:                 options.Logger,
			Clock:                  options.Clock,
			Registerer:             options.Registerer,
		})
		if err != nil {
			return nil, err
		}
		options.Transports = []Transport{lp}
	}
	for _, t := range options.Transports {
		b.transports.Add(t)
	}
	b.state = disconnectedState(options.Transports[0])

	for _, ext := range options.Extensions {
		if err := b.AddExtension(ext); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Transports exposes the registry of transports the session can negotiate
func (b *BayeuxClient) Transports() *TransportRegistry {
	return b.transports
}

// AddExtension appends ext to the extension pipeline
func (b *BayeuxClient) AddExtension(ext Extension) error {
	if err := b.extensions.add(ext); err != nil {
		return err
	}
	if aware, ok := ext.(RegistrationAware); ok {
		aware.Registered(b)
	}
	return nil
}

// RemoveExtension takes ext out of the pipeline
func (b *BayeuxClient) RemoveExtension(ext Extension) {
	if b.extensions.remove(ext) {
		if aware, ok := ext.(RegistrationAware); ok {
			aware.Unregistered()
		}
	}
}

// Channel returns the session channel named name, creating it on first use
func (b *BayeuxClient) Channel(name Channel) (*SessionChannel, error) {
	id, err := ParseChannelID(string(name))
	if err != nil {
		return nil, err
	}
	return b.channels.getChannel(b, id), nil
}

// Subscribe is a shortcut for Channel(name).Subscribe(listener)
func (b *BayeuxClient) Subscribe(name Channel, listener MessageListener) (*Subscription, error) {
	c, err := b.Channel(name)
	if err != nil {
		return nil, err
	}
	return c.Subscribe(listener), nil
}

// Publish is a shortcut for Channel(name).Publish(data)
func (b *BayeuxClient) Publish(name Channel, data interface{}) error {
	c, err := b.Channel(name)
	if err != nil {
		return err
	}
	return c.Publish(data)
}

// ClientID is the identifier assigned by the server, empty before the
// handshake succeeds
func (b *BayeuxClient) ClientID() string {
	return b.current().clientID
}

// CurrentState returns the state of the session
func (b *BayeuxClient) CurrentState() State {
	return b.current().state
}

// IsConnected reports whether the last /meta/connect succeeded
func (b *BayeuxClient) IsConnected() bool {
	return b.current().state == StateConnected
}

// IsHandshook reports whether the session holds a clientId
func (b *BayeuxClient) IsHandshook() bool {
	return b.current().isHandshook()
}

// IsDisconnected reports whether the session is disconnected or on its way
// there
func (b *BayeuxClient) IsDisconnected() bool {
	return b.current().isDisconnected()
}

func (b *BayeuxClient) current() *clientState {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.state
}

// Handshake starts a session. fields are copied into the /meta/handshake
// message. A handshake requested while a session is live is refused with a
// BadStateError; call Disconnect first.
func (b *BayeuxClient) Handshake(fields map[string]interface{}) error {
	if s := b.current(); !s.canTransitionTo(&clientState{state: StateHandshaking}) {
		return BadStateError{CurrentState: s.state, ToState: StateHandshaking}
	}
	allowed := b.transports.AllowedTransports()
	if len(allowed) == 0 {
		return ErrNoTransport
	}
	initial := b.transports.Transport(allowed[0])
	if err := initial.Init(); err != nil {
		return err
	}

	accepted := b.updateState(func(*clientState) *clientState {
		return handshakingState(fields, initial)
	}, nil, false)
	if !accepted {
		return BadStateError{CurrentState: b.CurrentState(), ToState: StateHandshaking}
	}
	return nil
}

// HandshakeAndWait calls Handshake and waits for the handshake reply to be
// processed: the session is then Connecting (or already Connected) on
// success and Disconnected when the server refused it for good.
// StateInvalid is returned on timeout.
func (b *BayeuxClient) HandshakeAndWait(fields map[string]interface{}, timeout time.Duration) (State, error) {
	if err := b.Handshake(fields); err != nil {
		return StateInvalid, err
	}
	return b.WaitFor(timeout, StateConnecting, StateConnected, StateDisconnected), nil
}

// Disconnect ends the session with /meta/disconnect when the session is
// handshook, or right away otherwise
func (b *BayeuxClient) Disconnect() {
	b.updateState(func(old *clientState) *clientState {
		if old.state == StateConnected || old.state == StateConnecting {
			return disconnectingState(old.transport, old.clientID)
		}
		return disconnectedState(old.transport)
	}, nil, false)
}

// Abort cancels every exchange and drops the session immediately. Messages
// still queued or in flight are failed back to their channels.
func (b *BayeuxClient) Abort() {
	b.updateState(func(old *clientState) *clientState {
		return abortedState(old.transport)
	}, nil, true)
}

// WaitFor blocks until the session settles in one of states or timeout
// elapses, in which case StateInvalid is returned
func (b *BayeuxClient) WaitFor(timeout time.Duration, states ...State) State {
	deadline := time.Now().Add(timeout)
	for {
		b.lock.Lock()
		current := b.state.state
		settled := b.updates == 0
		changed := b.changed
		b.lock.Unlock()

		if settled && containsState(states, current) {
			return current
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if remaining > waitRecheck {
			remaining = waitRecheck
		}
		timer := time.NewTimer(remaining)
		select {
		case <-changed:
		case <-timer.C:
		}
		timer.Stop()
	}

	if current := b.CurrentState(); containsState(states, current) {
		return current
	}
	return StateInvalid
}

// WaitForEmptySendQueue waits until every queued message has been handed to
// the transport. It reports false on timeout.
func (b *BayeuxClient) WaitForEmptySendQueue(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if b.queuedMessages() == 0 {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if remaining > waitRecheck {
			remaining = waitRecheck
		}
		time.Sleep(remaining)
	}
}

func containsState(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

// StartBatch holds outbound messages until the matching EndBatch. Batches
// nest.
func (b *BayeuxClient) StartBatch() {
	b.queueLock.Lock()
	defer b.queueLock.Unlock()
	b.batch++
}

// EndBatch closes a batch and sends the held messages once the outermost
// batch is closed. It reports whether they were sent.
func (b *BayeuxClient) EndBatch() bool {
	b.queueLock.Lock()
	if b.batch > 0 {
		b.batch--
	}
	done := b.batch == 0
	b.queueLock.Unlock()

	if done {
		b.sendBatch()
	}
	return done
}

// Batch runs fn inside a batch
func (b *BayeuxClient) Batch(fn func()) {
	b.StartBatch()
	defer b.EndBatch()
	fn()
}

// SetCookie stores a cookie sent to the server with every request
func (b *BayeuxClient) SetCookie(name, value string) {
	b.jar.SetCookies(b.serverAddress, []*http.Cookie{{Name: name, Value: value}})
}

// Cookie returns the value of the named cookie, or "" when it is not set
func (b *BayeuxClient) Cookie(name string) string {
	for _, c := range b.jar.Cookies(b.serverAddress) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (b *BayeuxClient) newMessageID() string {
	return strconv.FormatInt(b.messageID.Add(1), 10)
}

// updateState installs the snapshot built by create when the current state
// allows it (always when force is set), then runs post and the effects of
// the new state outside the lock. Refused transitions are dropped and
// reported as false.
func (b *BayeuxClient) updateState(create func(old *clientState) *clientState, post func(), force bool) bool {
	b.lock.Lock()
	b.updates++
	old := b.state
	next := create(old)
	if next == nil || (!force && !old.canTransitionTo(next)) {
		b.finishUpdateLocked()
		b.lock.Unlock()
		if next != nil {
			b.logger.
				WithField("at", "transition").
				WithError(BadStateError{CurrentState: old.state, ToState: next.state}).
				Debug("rejected")
		}
		return false
	}
	b.state = next
	b.lock.Unlock()

	b.logger.
		WithField("at", "transition").
		WithField("from", old.state.String()).
		WithField("to", next.state.String()).
		Debug("state changed")

	if post != nil {
		post()
	}

	// a transition started from post has already run its own effects
	b.lock.Lock()
	superseded := b.state != next
	b.lock.Unlock()
	if superseded {
		b.logger.
			WithField("at", "transition").
			WithField("state", next.state.String()).
			Debug("superseded")
		b.lock.Lock()
		b.finishUpdateLocked()
		b.lock.Unlock()
		return true
	}

	if old.state != next.state || old.transport != next.transport {
		b.enter(old, next)
	}
	b.execute(next)

	b.lock.Lock()
	b.finishUpdateLocked()
	b.lock.Unlock()
	return true
}

func (b *BayeuxClient) finishUpdateLocked() {
	b.updates--
	if b.updates == 0 {
		close(b.changed)
		b.changed = make(chan struct{})
	}
}

func (b *BayeuxClient) enter(old, next *clientState) {
	if old.transport != next.transport && next.transport != nil {
		if old.transport != nil {
			old.transport.Reset()
		}
		if err := next.transport.Init(); err != nil {
			b.logger.WithField("at", "transition").WithError(err).Warn("transport init failed")
		}
	}

	switch next.state {
	case StateHandshaking:
		if old.state != StateHandshaking {
			b.channels.resetSubscriptions()
		}
	case StateRehandshaking:
		// subscriptions made while the first handshake was pending are
		// kept so they go out once it succeeds
		if old.state != StateHandshaking && old.state != StateRehandshaking {
			b.channels.resetSubscriptions()
		}
	}
}

func (b *BayeuxClient) execute(s *clientState) {
	switch s.state {
	case StateDisconnected:
		b.scheduler.cancel()
		if s.aborted {
			s.transport.Abort()
		}
		s.transport.Reset()
		b.terminate()
	case StateHandshaking:
		b.sendHandshake()
	case StateRehandshaking:
		b.scheduler.schedule(s.interval()+s.backoff, b.sendHandshake)
	case StateConnecting:
		b.adviseTransport(s)
		b.sendBatch()
		b.scheduler.schedule(s.interval()+s.backoff, b.sendConnect)
	case StateConnected, StateUnconnected:
		b.adviseTransport(s)
		b.scheduler.schedule(s.interval()+s.backoff, b.sendConnect)
	case StateDisconnecting:
		b.scheduler.cancel()
		b.sendDisconnect(s)
	}
}

func (b *BayeuxClient) adviseTransport(s *clientState) {
	if aware, ok := s.transport.(adviceAware); ok && s.advice != nil {
		aware.SetAdvice(s.advice)
	}
}

// defaultAdvice is used until the server sends advice of its own
func (b *BayeuxClient) defaultAdvice() map[string]interface{} {
	return map[string]interface{}{
		adviceReconnect: ReconnectRetry,
		adviceInterval:  b.options.Interval.Milliseconds(),
		adviceTimeout:   b.options.Timeout.Milliseconds(),
	}
}

func (b *BayeuxClient) nextBackoff(s *clientState) time.Duration {
	return nextBackoff(s.backoff, b.options.BackoffIncrement, b.options.MaxBackoff)
}

func (b *BayeuxClient) sendHandshake() {
	s := b.current()
	if !s.isHandshaking() {
		return
	}
	logger := b.logger.WithField("at", "handshake")
	logger.Debug("starting")

	builder := NewHandshakeRequestBuilder()
	builder.AddFields(s.handshakeFields)
	if err := builder.AddVersion(BayeuxVersion); err != nil {
		logger.WithError(err).Error("invalid handshake")
		return
	}
	for _, name := range b.transports.AllowedTransports() {
		if err := builder.AddSupportedConnectionType(name); err != nil {
			logger.WithError(err).Error("invalid handshake")
			return
		}
	}
	ms, err := builder.Build()
	if err != nil {
		logger.WithError(err).Error("invalid handshake")
		return
	}
	b.send(s, b.handshakeListener, ms)
}

func (b *BayeuxClient) sendConnect() {
	s := b.current()
	if !s.isHandshook() {
		return
	}
	b.logger.WithField("at", "connect").WithField("state", s.state.String()).Debug("starting")

	builder := NewConnectRequestBuilder()
	if err := builder.AddConnectionType(s.transport.Name()); err != nil {
		b.logger.WithField("at", "connect").WithError(err).Error("invalid connect")
		return
	}
	// the first connect after a handshake or a failure must not be held by
	// the server
	if s.state == StateConnecting || s.state == StateUnconnected {
		builder.AddTimeoutAdvice(0)
	}
	ms, err := builder.Build()
	if err != nil {
		b.logger.WithField("at", "connect").WithError(err).Error("invalid connect")
		return
	}
	b.send(s, b.connectListener, ms)
}

func (b *BayeuxClient) sendDisconnect(s *clientState) {
	b.logger.WithField("at", "disconnect").Debug("starting")
	ms, _ := NewDisconnectRequestBuilder().Build()
	b.send(s, b.disconnectListener, ms)
}

func (b *BayeuxClient) sendSubscription(kind Channel, id *ChannelID) {
	if id.IsMeta() || id.IsService() {
		return
	}
	var (
		ms  []Message
		err error
	)
	if kind == MetaSubscribe {
		builder := NewSubscribeRequestBuilder()
		if err = builder.AddSubscription(id.Channel()); err == nil {
			ms, err = builder.Build()
		}
	} else {
		builder := NewUnsubscribeRequestBuilder()
		if err = builder.AddSubscription(id.Channel()); err == nil {
			ms, err = builder.Build()
		}
	}
	if err != nil {
		b.logger.WithField("at", string(kind)).WithError(err).Error("invalid subscription")
		return
	}
	for _, m := range ms {
		b.enqueueSend(m)
	}
}

// send stamps ids and the clientId, runs the outbound extensions and hands
// the surviving messages to the transport of s
func (b *BayeuxClient) send(s *clientState, listener TransportListener, messages []Message) {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.ID() == "" {
			m.SetID(b.newMessageID())
		}
		if s.clientID != "" {
			m.SetClientID(s.clientID)
		}
		if b.extensions.extendSend(b, m) {
			out = append(out, m)
		}
	}
	if len(out) > 0 {
		s.transport.Send(listener, out)
	}
}

func (b *BayeuxClient) enqueueSend(m Message) {
	if b.canSend() {
		b.sendMessages([]Message{m})
		return
	}
	b.queueLock.Lock()
	defer b.queueLock.Unlock()
	b.queue = append(b.queue, m)
}

func (b *BayeuxClient) canSend() bool {
	s := b.current()
	b.queueLock.Lock()
	batching := b.batch > 0
	b.queueLock.Unlock()
	return !s.isDisconnected() && !batching && !s.isHandshaking()
}

func (b *BayeuxClient) takeMessages() []Message {
	b.queueLock.Lock()
	defer b.queueLock.Unlock()
	ms := b.queue
	b.queue = nil
	return ms
}

func (b *BayeuxClient) queuedMessages() int {
	b.queueLock.Lock()
	defer b.queueLock.Unlock()
	return len(b.queue)
}

func (b *BayeuxClient) sendBatch() {
	if b.current().isHandshaking() {
		return
	}
	if ms := b.takeMessages(); len(ms) > 0 {
		b.sendMessages(ms)
	}
}

func (b *BayeuxClient) sendMessages(messages []Message) bool {
	s := b.current()
	if s.state == StateConnecting || s.state == StateConnected {
		b.send(s, b.publishListener, messages)
		return true
	}
	b.failMessages(ErrClientNotConnected, messages)
	return false
}

// terminate fails whatever is still queued once the session is over
func (b *BayeuxClient) terminate() {
	if ms := b.takeMessages(); len(ms) > 0 {
		b.failMessages(ErrClientDisconnected, ms)
	}
}

// failMessages echoes each message back to its channel as a failed reply
func (b *BayeuxClient) failMessages(err error, messages []Message) {
	for _, m := range messages {
		failed := NewMessage(m.Channel())
		if id := m.ID(); id != "" {
			failed.SetID(id)
		}
		failed.SetSuccessful(false)
		failed.SetError(err.Error())
		failed[FieldFailedMessage] = m
		if sub, ok := m[FieldSubscription]; ok {
			failed[FieldSubscription] = sub
		}
		b.receive(failed)
	}
}

// receive runs the inbound extensions and notifies the channel listeners
func (b *BayeuxClient) receive(m Message) {
	if m.Channel() == emptyChannel {
		b.logger.WithField("at", "receive").Debug("dropping message without channel")
		return
	}
	if !b.extensions.extendReceive(b, m) {
		return
	}
	if err := b.channels.dispatch(m); err != nil {
		b.logger.WithField("at", "receive").WithError(err).Debug("dropping message")
	}
}

func (b *BayeuxClient) processHandshake(handshake Message) {
	if !handshake.Successful() {
		b.updateState(func(old *clientState) *clientState {
			switch adviceAction(handshake.Advice(), ReconnectHandshake) {
			case ReconnectHandshake, ReconnectRetry:
				return rehandshakingState(old.handshakeFields, old.transport, b.nextBackoff(old))
			case ReconnectNone:
				return disconnectedState(old.transport)
			}
			return nil
		}, func() { b.receive(handshake) }, false)
		return
	}

	serverTransports := handshake.SupportedConnectionTypes()
	negotiated := b.transports.Negotiate(serverTransports, BayeuxVersion)
	if len(negotiated) == 0 {
		handshake.SetSuccessful(false)
		handshake.SetError(fmt.Sprintf("405:c%v,s%v:no transport", b.transports.AllowedTransports(), serverTransports))
		b.updateState(func(old *clientState) *clientState {
			return disconnectedState(old.transport)
		}, func() { b.receive(handshake) }, false)
		return
	}

	transport := negotiated[0]
	b.updateState(func(old *clientState) *clientState {
		advice := handshake.Advice()
		if advice == nil {
			advice = b.defaultAdvice()
		}
		switch adviceAction(advice, ReconnectRetry) {
		case ReconnectRetry:
			return connectingState(old.handshakeFields, advice, transport, handshake.ClientID())
		case ReconnectNone:
			return disconnectedState(old.transport)
		}
		return nil
	}, func() { b.receive(handshake) }, false)
}

func (b *BayeuxClient) processConnect(connect Message) {
	b.updateState(func(old *clientState) *clientState {
		advice := connect.Advice()
		if advice == nil {
			advice = old.advice
		}
		action := adviceAction(advice, ReconnectRetry)
		if connect.Successful() {
			switch action {
			case ReconnectRetry:
				return connectedState(old.handshakeFields, advice, old.transport, old.clientID)
			case ReconnectNone:
				// a disconnect is in flight; let its reply finish the session
				return disconnectingState(old.transport, old.clientID)
			}
			return nil
		}
		switch action {
		case ReconnectHandshake:
			return rehandshakingState(old.handshakeFields, old.transport, 0)
		case ReconnectRetry:
			return unconnectedState(old.handshakeFields, advice, old.transport, old.clientID, b.nextBackoff(old))
		case ReconnectNone:
			return disconnectedState(old.transport)
		}
		return nil
	}, func() { b.receive(connect) }, false)
}

func (b *BayeuxClient) processDisconnect(disconnect Message) {
	b.updateState(func(old *clientState) *clientState {
		return disconnectedState(old.transport)
	}, func() { b.receive(disconnect) }, false)
}

type exchangeKind int

const (
	publishExchange exchangeKind = iota
	handshakeExchange
	connectExchange
	disconnectExchange
)

// transportListener routes the outcome of an exchange back into the session
type transportListener struct {
	client *BayeuxClient
	kind   exchangeKind
}

func (l *transportListener) OnSending(messages []Message) {}

func (l *transportListener) OnMessages(messages []Message) {
	for _, m := range messages {
		switch {
		case l.kind == handshakeExchange && m.Channel() == MetaHandshake:
			l.client.processHandshake(m)
		case l.kind == connectExchange && m.Channel() == MetaConnect:
			l.client.processConnect(m)
		case l.kind == disconnectExchange && m.Channel() == MetaDisconnect:
			l.client.processDisconnect(m)
		default:
			l.client.receive(m)
		}
	}
}

func (l *transportListener) OnConnectException(err error, messages []Message) {
	l.onFailure(err, messages)
}

func (l *transportListener) OnException(err error, messages []Message) {
	l.onFailure(err, messages)
}

func (l *transportListener) OnExpire(err error, messages []Message) {
	l.onFailure(err, messages)
}

func (l *transportListener) OnProtocolError(info string, messages []Message) {
	l.onFailure(ProtocolError{Info: info}, messages)
}

func (l *transportListener) onFailure(err error, messages []Message) {
	b := l.client
	b.logger.WithField("at", "exchange").WithError(err).Debug("exchange failed")

	switch l.kind {
	case handshakeExchange:
		b.updateState(func(old *clientState) *clientState {
			return rehandshakingState(old.handshakeFields, old.transport, b.nextBackoff(old))
		}, nil, false)
	case connectExchange:
		b.updateState(func(old *clientState) *clientState {
			return unconnectedState(old.handshakeFields, old.advice, old.transport, old.clientID, b.nextBackoff(old))
		}, nil, false)
	case disconnectExchange:
		b.updateState(func(old *clientState) *clientState {
			return disconnectedState(old.transport)
		}, nil, false)
	}
	b.failMessages(err, messages)
}
