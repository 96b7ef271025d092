package gobayeux

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	listener TransportListener
	messages []Message
}

// fakeTransport records every exchange and lets the test answer them
type fakeTransport struct {
	name string

	mu        sync.Mutex
	exchanges []fakeExchange
	pending   []fakeExchange
	inits     int
	resets    int
	aborts    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{name: "fake"}
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return nil
}

func (f *fakeTransport) Accept(string) bool { return true }

func (f *fakeTransport) Send(listener TransportListener, messages []Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ex := fakeExchange{listener: listener, messages: messages}
	f.exchanges = append(f.exchanges, ex)
	f.pending = append(f.pending, ex)
}

func (f *fakeTransport) Abort() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.aborts++
	f.mu.Unlock()

	for _, ex := range pending {
		ex.listener.OnException(ErrTransportAborted, ex.messages)
	}
}

func (f *fakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exchanges)
}

// sent returns every message sent on channel, in order
func (f *fakeTransport) sent(channel Channel) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ms []Message
	for _, ex := range f.exchanges {
		for _, m := range ex.messages {
			if m.Channel() == channel {
				ms = append(ms, m)
			}
		}
	}
	return ms
}

// take removes the oldest unanswered exchange carrying a message on channel
func (f *fakeTransport) take(t *testing.T, channel Channel) fakeExchange {
	t.Helper()
	var found fakeExchange
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, ex := range f.pending {
			for _, m := range ex.messages {
				if m.Channel() == channel {
					found = ex
					f.pending = append(f.pending[:i:i], f.pending[i+1:]...)
					return true
				}
			}
		}
		return false
	}, time.Second, time.Millisecond, "no exchange on %s", channel)
	return found
}

// answer replies to the oldest exchange on channel with the reply built from
// its first message
func (f *fakeTransport) answer(t *testing.T, channel Channel, build func(request Message) Message) {
	t.Helper()
	ex := f.take(t, channel)
	ex.listener.OnMessages([]Message{build(ex.messages[0])})
}

func replyTo(request Message, successful bool) Message {
	m := NewMessage(request.Channel())
	m.SetID(request.ID())
	m.SetSuccessful(successful)
	if id := request.ClientID(); id != "" {
		m.SetClientID(id)
	}
	if sub := request.Subscription(); sub != "" {
		m[FieldSubscription] = string(sub)
	}
	return m
}

func handshakeReply(clientID string, advice map[string]interface{}, types ...string) func(Message) Message {
	return func(request Message) Message {
		m := replyTo(request, true)
		m.SetClientID(clientID)
		m[FieldVersion] = BayeuxVersion
		m[FieldSupportedConnectionTypes] = types
		if advice != nil {
			m[FieldAdvice] = advice
		}
		return m
	}
}

func retryAdvice(interval int64) map[string]interface{} {
	return map[string]interface{}{
		adviceReconnect: ReconnectRetry,
		adviceInterval:  interval,
		adviceTimeout:   int64(0),
	}
}

type fakeSession struct {
	client    *BayeuxClient
	transport *fakeTransport
	clock     *clock.Mock
}

func newFakeSession(t *testing.T, opts ...Option) *fakeSession {
	t.Helper()
	transport := newFakeTransport()
	mock := clock.NewMock()
	opts = append([]Option{
		WithTransports(transport),
		WithClock(mock),
		WithBackoff(time.Second, 3500*time.Millisecond),
	}, opts...)
	client, err := NewBayeuxClient("https://example.com/cometd", opts...)
	require.NoError(t, err)
	return &fakeSession{client: client, transport: transport, clock: mock}
}

// connect drives the session to the connected state
func (s *fakeSession) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, s.client.Handshake(nil))
	s.transport.answer(t, MetaHandshake, handshakeReply("client-1", retryAdvice(0), "fake"))
	require.Equal(t, StateConnecting, s.client.CurrentState())

	s.clock.Add(minimumDelay)
	s.transport.answer(t, MetaConnect, func(request Message) Message {
		m := replyTo(request, true)
		m[FieldAdvice] = retryAdvice(0)
		return m
	})
	require.Equal(t, StateConnected, s.client.CurrentState())
}

// recorder collects the messages delivered to a listener
type recorder struct {
	mu sync.Mutex
	ms []Message
}

func (r *recorder) listen(_ *SessionChannel, m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ms = append(r.ms, m)
}

func (r *recorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.ms...)
}
