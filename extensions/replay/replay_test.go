package replay

import (
	"testing"

	bayeux "github.com/sigmavirus24/gobayeux/v3"
)

func TestNewInitializesOurState(t *testing.T) {
	e := New()
	if e.isSupported() {
		t.Error("extension is initialized incorrectly")
	}
	if e.replayStore == nil {
		t.Error("extension has no replay store")
	}
}

func TestOutgoingMetaHandshake(t *testing.T) {
	e := New()
	m := bayeux.NewMessage(bayeux.MetaHandshake)
	if m.Ext() != nil {
		t.Fatal("ext should be nil but isn't")
	}
	if !e.SendMeta(nil, m) {
		t.Fatal("handshake was dropped")
	}
	v, ok := m.Ext()[ExtensionName]
	if !ok {
		t.Fatal("replay extension was not included in the handshake")
	}

	value, ok := v.(bool)
	if !ok {
		t.Fatal("couldn't coerce extension value to a bool")
	}
	if !value {
		t.Fatal("replay extension not set to true")
	}
}

func TestSupportedOutgoingMetaSubscribe(t *testing.T) {
	want := 1234
	e := NewWithStorage(&MapStorage{store: map[string]int{"/foo/bar": want}})
	e.supportedByServer.Store(true)
	m := bayeux.NewMessage(bayeux.MetaSubscribe)
	e.SendMeta(nil, m)

	v, ok := m.Ext()[ExtensionName]
	if !ok {
		t.Fatal("replay extension was not included in the subscribe")
	}

	value, ok := v.(map[string]int)
	if !ok {
		t.Fatal("replay extension value couldn't coerce to a map")
	}
	if len(value) > 1 {
		t.Fatalf("too many values in replay extension map: %d", len(value))
	}
	if got := value["/foo/bar"]; want != got {
		t.Fatalf("replay map mismatch expected %d, got %d", want, got)
	}
}

func TestUnsupportedOutgoingMetaSubscribe(t *testing.T) {
	e := NewWithStorage(&MapStorage{store: map[string]int{"/foo/bar": 1}})
	m := bayeux.NewMessage(bayeux.MetaSubscribe)
	e.SendMeta(nil, m)

	if _, ok := m.Ext()[ExtensionName]; ok {
		t.Fatal("replay extension added data when it was unsupported")
	}
}

func TestDetectsItIsSupported(t *testing.T) {
	e := New()
	m := bayeux.NewMessage(bayeux.MetaHandshake)
	m.GetExt(true)[ExtensionName] = true
	e.ReceiveMeta(nil, m)
	if e.isSupported() != true {
		t.Error("replay extension didn't recognize that the server supported it")
	}

	e.Unregistered()
	if e.isSupported() {
		t.Error("replay extension still supported after being unregistered")
	}
}

func TestIncomingMetaUnsubscribeRemovesChannel(t *testing.T) {
	e := NewWithStorage(&MapStorage{store: map[string]int{
		"/foo/bar": 1,
		"/bar/*":   2,
	}})
	m := bayeux.NewMessage(bayeux.MetaUnsubscribe)
	m.SetSuccessful(true)
	m[bayeux.FieldSubscription] = "/bar/*"
	e.ReceiveMeta(nil, m)

	if _, ok := e.replayStore.Get("/bar/*"); ok {
		t.Fatal("expected '/bar/*' to be removed from replay map but wasn't")
	}
	if _, ok := e.replayStore.Get("/foo/bar"); !ok {
		t.Fatal("expected '/foo/bar' to stay in the replay map")
	}
}

func TestIncomingEdges(t *testing.T) {
	testCases := []struct {
		name    string
		channel bayeux.Channel
	}{
		{"connect", "/meta/connect"},
		{"subscribe", "/meta/subscribe"},
		{"service channel", "/service/foo"},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := New()
			m := bayeux.NewMessage(tc.channel)
			if !e.ReceiveMeta(nil, m) || !e.Receive(nil, m) {
				t.Fatal("replay extension dropped a message")
			}
			if len(e.replayStore.AsMap()) != 0 {
				t.Fatal("replay extension stored an id for a non broadcast message")
			}
		})
	}
}

func TestIncomingUpdatesReplayIDStore(t *testing.T) {
	testCases := []struct {
		name string
		data interface{}
		want int
	}{
		{
			name: "valid data updates the id in the store",
			data: map[string]interface{}{"event": map[string]interface{}{"replayId": float64(2), "body": "data"}},
			want: 2,
		},
		{
			name: "valid encoded data updates the id in the store",
			data: `{"event": {"replayId": 3, "body": "data"}}`,
			want: 3,
		},
		{
			name: "missing event in data",
			data: `{"not_an_event": {"replay": 2, "body": "data"}}`,
			want: 1,
		},
		{
			name: "non-object event",
			data: `{"event": [{"replay": 2, "body": "data"}]}`,
			want: 1,
		},
		{
			name: "no replay key in event object",
			data: map[string]interface{}{"event": map[string]interface{}{"body": "data"}},
			want: 1,
		},
		{
			name: "message data isn't json",
			data: `just some plain text`,
			want: 1,
		},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := NewWithStorage(&MapStorage{store: map[string]int{"/foo/bar": 1}})
			m := bayeux.NewMessage("/foo/bar")
			m.SetData(tc.data)
			e.Receive(nil, m)
			got, ok := e.replayStore.Get("/foo/bar")
			if !ok {
				t.Fatal("expected /foo/bar to be in the replay store but it wasn't")
			}
			if got != tc.want {
				t.Fatalf("expected the replay id for /foo/bar to be %d but got %d", tc.want, got)
			}
		})
	}
}

func TestMapStorageSet(t *testing.T) {
	s := NewMapStorage()
	want := 1
	s.Set("/foo/bar", want)
	if got, ok := s.Get("/foo/bar"); !ok || want != got {
		if !ok {
			t.Fatal("expected s.Set to store value but it didn't")
		}
		t.Fatalf("expected offset to be %d but got %d", want, got)
	}
}

func TestEmptyMapStorageGet(t *testing.T) {
	s := NewMapStorage()
	if _, ok := s.Get("/foo/bar"); ok {
		t.Fatal("expected s.Get(\"/foo/bar\") to not return ok")
	}
}

func TestMapStorageDelete(t *testing.T) {
	s := &MapStorage{store: map[string]int{"/foo/bar": 1}}
	s.Delete("/foo/bar")
	if _, ok := s.Get("/foo/bar"); ok {
		t.Fatal("expected s.Get(\"/foo/bar\") to not return ok")
	}
}

func TestMapStorageAsMap(t *testing.T) {
	s := &MapStorage{store: map[string]int{"/foo/bar": 1234}}
	m := s.AsMap()
	if len(m) != 1 {
		t.Fatalf("expected len(m) = %d, got %d", 1, len(m))
	}
	if m["/foo/bar"] != 1234 {
		t.Fatalf("expected m[\"/foo/bar\"] = %d, got %d", 1234, m["/foo/bar"])
	}
}
