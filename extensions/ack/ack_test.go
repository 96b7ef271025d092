package ack

import (
	"testing"

	bayeux "github.com/sigmavirus24/gobayeux/v3"
)

func handshakeReply(supported bool) bayeux.Message {
	m := bayeux.NewMessage(bayeux.MetaHandshake)
	m.SetSuccessful(true)
	m.GetExt(true)[ExtensionName] = supported
	return m
}

func connectReply(ack interface{}) bayeux.Message {
	m := bayeux.NewMessage(bayeux.MetaConnect)
	m.SetSuccessful(true)
	m.GetExt(true)[ExtensionName] = ack
	return m
}

func TestHandshakeRequestsAcks(t *testing.T) {
	e := New()
	m := bayeux.NewMessage(bayeux.MetaHandshake)
	e.SendMeta(nil, m)
	if v, _ := m.Ext()[ExtensionName].(bool); !v {
		t.Fatal("expected the handshake to ask for acknowledgements")
	}
	if e.AckID() != -1 {
		t.Fatalf("expected ack id to be reset to -1, got %d", e.AckID())
	}
}

func TestConnectCarriesLastAckID(t *testing.T) {
	e := New()
	e.ReceiveMeta(nil, handshakeReply(true))
	if !e.ServerSupportsAcks() {
		t.Fatal("expected the server to support acks")
	}

	e.ReceiveMeta(nil, connectReply(float64(7)))

	m := bayeux.NewMessage(bayeux.MetaConnect)
	e.SendMeta(nil, m)
	if got := m.Ext()[ExtensionName]; got != int64(7) {
		t.Fatalf("expected connect to acknowledge 7, got %v", got)
	}
}

func TestUnsupportedServerGetsNoAcks(t *testing.T) {
	e := New()
	e.ReceiveMeta(nil, handshakeReply(false))
	e.ReceiveMeta(nil, connectReply(float64(3)))

	if e.AckID() != -1 {
		t.Fatalf("expected ack id to stay -1, got %d", e.AckID())
	}

	m := bayeux.NewMessage(bayeux.MetaConnect)
	e.SendMeta(nil, m)
	if m.Ext() != nil {
		t.Fatal("expected no ext on connect when the server does not support acks")
	}
}

func TestFailedConnectKeepsAckID(t *testing.T) {
	e := New()
	e.ReceiveMeta(nil, handshakeReply(true))
	e.ReceiveMeta(nil, connectReply(float64(2)))

	failed := connectReply(float64(9))
	failed.SetSuccessful(false)
	e.ReceiveMeta(nil, failed)

	if e.AckID() != 2 {
		t.Fatalf("expected ack id 2, got %d", e.AckID())
	}
}

func TestToInt64(t *testing.T) {
	testCases := []struct {
		name  string
		value interface{}
		want  int64
		ok    bool
	}{
		{"float", float64(4), 4, true},
		{"int", 5, 5, true},
		{"string", "6", 6, true},
		{"bad string", "six", 0, false},
		{"nil", nil, 0, false},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			got, ok := toInt64(tc.value)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("toInt64(%v) = (%d, %v), want (%d, %v)", tc.value, got, ok, tc.want, tc.ok)
			}
		})
	}
}
