package gobayeux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type versionedTransport struct {
	fakeTransport
	accepts bool
}

func (v *versionedTransport) Accept(string) bool { return v.accepts }

func namedTransport(name string, accepts bool) *versionedTransport {
	return &versionedTransport{fakeTransport: fakeTransport{name: name}, accepts: accepts}
}

func transportNames(ts []Transport) []string {
	names := make([]string, 0, len(ts))
	for _, t := range ts {
		names = append(names, t.Name())
	}
	return names
}

func TestTransportRegistry_Negotiate(t *testing.T) {
	r := NewTransportRegistry()
	r.Add(namedTransport("websocket", true))
	r.Add(namedTransport(ConnectionTypeLongPolling, true))
	r.Add(namedTransport(ConnectionTypeCallbackPolling, false))
	r.Add(nil)

	testCases := []struct {
		name   string
		server []string
		want   []string
	}{
		{"local order wins", []string{ConnectionTypeLongPolling, "websocket"}, []string{"websocket", ConnectionTypeLongPolling}},
		{"only common transports", []string{ConnectionTypeLongPolling, ConnectionTypeIFrame}, []string{ConnectionTypeLongPolling}},
		{"version mismatch is skipped", []string{ConnectionTypeCallbackPolling}, []string{}},
		{"nothing in common", []string{ConnectionTypeIFrame}, []string{}},
		{"server sent nothing", nil, []string{}},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, transportNames(r.Negotiate(tc.server, BayeuxVersion)))
		})
	}
}

func TestTransportRegistry_Allowed(t *testing.T) {
	r := NewTransportRegistry()
	first := namedTransport("websocket", true)
	r.Add(first)
	r.Add(namedTransport(ConnectionTypeLongPolling, true))

	assert.Equal(t, []string{"websocket", ConnectionTypeLongPolling}, r.KnownTransports())
	assert.Equal(t, []string{"websocket", ConnectionTypeLongPolling}, r.AllowedTransports())

	r.SetAllowedTransports(ConnectionTypeLongPolling, "unknown")
	assert.Equal(t, []string{ConnectionTypeLongPolling}, r.AllowedTransports())
	assert.Equal(t, []string{ConnectionTypeLongPolling}, transportNames(r.Negotiate([]string{"websocket", ConnectionTypeLongPolling}, BayeuxVersion)))

	// replacing keeps the priority
	replacement := namedTransport("websocket", true)
	r.Add(replacement)
	assert.Equal(t, []string{"websocket", ConnectionTypeLongPolling}, r.KnownTransports())
	assert.Same(t, replacement, r.Transport("websocket"))
	assert.Nil(t, r.Transport("iframe"))
}

func TestHandshake_WithoutAllowedTransport(t *testing.T) {
	s := newFakeSession(t)
	s.client.Transports().SetAllowedTransports()

	assert.ErrorIs(t, s.client.Handshake(nil), ErrNoTransport)
	assert.Equal(t, StateDisconnected, s.client.CurrentState())
}
