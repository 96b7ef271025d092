package gobayeux

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMessage_TimestampAsTime(t *testing.T) {
	m := Message{FieldTimestamp: "2020-05-01T06:28:51.00"}
	got, err := m.TimestampAsTime()
	if err != nil {
		t.Errorf("expected a valid timestamp, got err %q", err)
	}
	if want := time.Date(2020, time.May, 1, 6, 28, 51, 0, time.UTC); want != got {
		t.Errorf("unexpected time parse; want %v, got %v", want, got)
	}
}

func TestMessage_ParseError(t *testing.T) {
	testCases := []struct {
		name      string
		errorStr  string
		expected  MessageError
		shouldErr bool
	}{
		// Examples taken from specification
		{
			"no error args",
			"401::No client ID",
			MessageError{401, []string{""}, "No client ID"},
			false,
		},
		{
			"one nonsense error arg",
			"402:xj3sjdsjdsjad:Unknown Client ID",
			MessageError{402, []string{"xj3sjdsjdsjad"}, "Unknown Client ID"},
			false,
		},
		{
			"two args",
			"403:xj3sjdsjdsjad,/foo/bar:Subscription denied",
			MessageError{403, []string{"xj3sjdsjdsjad", "/foo/bar"}, "Subscription denied"},
			false,
		},
		{
			"one channel name arg",
			"404:/foo/bar:Unknown Channel",
			MessageError{404, []string{"/foo/bar"}, "Unknown Channel"},
			false,
		},
		// Following cases aren't from the specification directly
		{
			"invalid status code",
			"4o4:/foo/bar:Broken Error Code",
			MessageError{},
			true,
		},
		{
			"invalid error string",
			"404-/foo/bar-Unknown Channel",
			MessageError{},
			true,
		},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			m := Message{FieldError: tc.errorStr}
			got, err := m.ParseError()
			if err != nil && tc.shouldErr {
				return
			}
			if err != nil && !tc.shouldErr {
				t.Errorf("expected a parsed MessageError but got an err: %q", err)
			}
			if err == nil && tc.shouldErr {
				t.Error("expected an error but didn't get one")
			}

			want := tc.expected
			if want.ErrorCode != got.ErrorCode {
				t.Errorf("error parsing error code; want %v, got %v", want.ErrorCode, got.ErrorCode)
			}

			if want.ErrorMessage != got.ErrorMessage {
				t.Errorf("error parsing error message; want %v, got %v", want.ErrorMessage, got.ErrorMessage)
			}

			if len(want.ErrorArgs) != len(got.ErrorArgs) {
				t.Errorf("error parsing error args (found different lengths); want %v, got %v", want.ErrorArgs, got.ErrorArgs)
			}

			for index, arg := range want.ErrorArgs {
				if arg != got.ErrorArgs[index] {
					t.Errorf("error parsing error args (found different items at same position %d); want %v, got %v", index, want.ErrorArgs, got.ErrorArgs)
				}
			}
		})
	}
}

func TestMessage_GetExt(t *testing.T) {
	testCases := []struct {
		name         string
		message      Message
		shouldCreate bool
		want         map[string]interface{}
	}{
		{
			name:         "nil extension is initialized as a map with create=true",
			message:      Message{},
			shouldCreate: true,
			want:         make(map[string]interface{}),
		},
		{
			name:         "nil extension is not initialized with create=false",
			message:      Message{},
			shouldCreate: false,
			want:         nil,
		},
		{
			name:         "non-nil extension is not overwritten with create=true",
			message:      Message{FieldExt: map[string]interface{}{"foo": "bar"}},
			shouldCreate: true,
			want:         map[string]interface{}{"foo": "bar"},
		},
		{
			name:         "raw json extension is decoded",
			message:      Message{FieldExt: json.RawMessage(`{"foo":"bar"}`)},
			shouldCreate: false,
			want:         map[string]interface{}{"foo": "bar"},
		},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := tc.message.GetExt(tc.shouldCreate)
			if tc.want == nil && got != nil {
				t.Errorf("expected GetExt(%v) to return nil, got %v", tc.shouldCreate, got)
			}
			if tc.want != nil && got == nil {
				t.Errorf("expected GetExt(%v) to return %v, got nil", tc.shouldCreate, tc.want)
			}
			if len(tc.want) == len(got) {
				for k, vi := range tc.want {
					wantv, _ := vi.(string)
					gotv, _ := got[k].(string)
					if wantv != gotv {
						t.Errorf("expected Ext[%s] == %s, got %s", k, wantv, gotv)
					}
				}
			}
		})
	}
}

func TestAdvice_MustNotRetryOrHandshake(t *testing.T) {
	testCases := []struct {
		name      string
		reconnect string
		expected  bool
	}{
		{
			"reconnect advice is none",
			"none",
			true,
		},
		{
			"reconnect advice is retry",
			"retry",
			false,
		},
		{
			"reconnect advice is handshake",
			"handshake",
			false,
		},
	}
	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			a := Advice{Reconnect: tc.reconnect}
			if got, want := a.MustNotRetryOrHandshake(), tc.expected; want != got {
				t.Errorf("expected MustNotRetryOrHandshake() = %v, got %v", want, got)
			}
		})
	}
}

func TestAdvice_ShouldRetry(t *testing.T) {
	testCases := []struct {
		name      string
		reconnect string
		expected  bool
	}{
		{
			"reconnect advice is none",
			"none",
			false,
		},
		{
			"reconnect advice is retry",
			"retry",
			true,
		},
		{
			"reconnect advice is handshake",
			"handshake",
			false,
		},
	}
	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			a := Advice{Reconnect: tc.reconnect}
			if got, want := a.ShouldRetry(), tc.expected; want != got {
				t.Errorf("expected ShouldRetry() = %v, got %v", want, got)
			}
		})
	}
}

func TestAdvice_ShouldHandshake(t *testing.T) {
	testCases := []struct {
		name      string
		reconnect string
		expected  bool
	}{
		{
			"reconnect advice is none",
			"none",
			false,
		},
		{
			"reconnect advice is retry",
			"retry",
			false,
		},
		{
			"reconnect advice is handshake",
			"handshake",
			true,
		},
	}
	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			a := Advice{Reconnect: tc.reconnect}
			if got, want := a.ShouldHandshake(), tc.expected; want != got {
				t.Errorf("expected ShouldHandshake() = %v, got %v", want, got)
			}
		})
	}
}

func TestAdvice_TimeoutAsDuration(t *testing.T) {
	testCases := []struct {
		name     string
		timeout  int
		expected time.Duration
	}{
		{
			"two seconds",
			2000,
			time.Duration(2) * time.Second,
		},
		{
			"two hundred milliseconds",
			200,
			time.Duration(200) * time.Millisecond,
		},
		{
			"three minutes",
			180000,
			time.Duration(3) * time.Minute,
		},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			a := Advice{Timeout: tc.timeout}
			if got, want := a.TimeoutAsDuration(), tc.expected; want != got {
				t.Errorf("expected TimeoutAsDuration() = %v, got %v", want, got)
			}
		})
	}
}

func TestAdvice_IntervalAsDuration(t *testing.T) {
	testCases := []struct {
		name     string
		interval int
		expected time.Duration
	}{
		{
			"two seconds",
			2000,
			time.Duration(2) * time.Second,
		},
		{
			"two hundred milliseconds",
			200,
			time.Duration(200) * time.Millisecond,
		},
		{
			"three minutes",
			180000,
			time.Duration(3) * time.Minute,
		},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			a := Advice{Interval: tc.interval}
			if got, want := a.IntervalAsDuration(), tc.expected; want != got {
				t.Errorf("expected IntervalAsDuration() = %v, got %v", want, got)
			}
		})
	}
}

func TestParseMessages(t *testing.T) {
	testCases := []struct {
		name      string
		body      string
		count     int
		shouldErr bool
	}{
		{"array of messages", `[{"channel":"/meta/connect","successful":true},{"channel":"/foo","data":{}}]`, 2, false},
		{"null entries are skipped", `[null,{"channel":"/foo"}]`, 1, false},
		{"empty array", `[]`, 0, false},
		{"object instead of array", `{"channel":"/foo"}`, 0, true},
		{"message without channel", `[{"id":"1"}]`, 0, true},
		{"not json", `<html>`, 0, true},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			ms, err := ParseMessages([]byte(tc.body))
			if tc.shouldErr {
				var protocolErr ProtocolError
				if !errors.As(err, &protocolErr) {
					t.Fatalf("expected a ProtocolError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected messages but got an err %q", err)
			}
			if len(ms) != tc.count {
				t.Fatalf("expected %d messages, got %d", tc.count, len(ms))
			}
		})
	}
}

func TestMessage_Accessors(t *testing.T) {
	ms, err := ParseMessages([]byte(`[{
		"channel": "/meta/handshake",
		"id": 12,
		"clientId": "abc",
		"successful": "true",
		"supportedConnectionTypes": ["long-polling", "websocket"],
		"advice": {"reconnect": "retry", "interval": "250", "timeout": 30000},
		"ext": {"ack": true}
	}]`))
	if err != nil {
		t.Fatalf("unexpected error %q", err)
	}
	m := ms[0]

	if m.Channel() != MetaHandshake || !m.IsMeta() {
		t.Errorf("unexpected channel %q", m.Channel())
	}
	if m.ID() != "12" {
		t.Errorf("expected numeric id to read as \"12\", got %q", m.ID())
	}
	if m.ClientID() != "abc" {
		t.Errorf("expected clientId abc, got %q", m.ClientID())
	}
	if !m.Successful() {
		t.Error("expected the string \"true\" to be successful")
	}
	if got := m.SupportedConnectionTypes(); len(got) != 2 || got[1] != "websocket" {
		t.Errorf("unexpected connection types %v", got)
	}

	advice, ok := m.AdviceFields()
	if !ok {
		t.Fatal("expected advice")
	}
	if !advice.ShouldRetry() || advice.IntervalAsDuration() != 250*time.Millisecond || advice.TimeoutAsDuration() != 30*time.Second {
		t.Errorf("unexpected advice %+v", advice)
	}
	if v, _ := m.Ext()["ack"].(bool); !v {
		t.Error("expected ext.ack to be true")
	}
}

func TestMessage_Copy(t *testing.T) {
	m := NewMessage("/foo")
	m.SetID("1")
	c := m.Copy()
	c.SetID("2")
	if m.ID() != "1" {
		t.Fatalf("copy shares fields with the original: %q", m.ID())
	}
	if c.Channel() != "/foo" {
		t.Fatalf("copy lost the channel: %q", c.Channel())
	}
}

func TestAdviceHelpers(t *testing.T) {
	advice := map[string]interface{}{"reconnect": "none", "interval": float64(1500)}
	if got := adviceAction(advice, ReconnectRetry); got != ReconnectNone {
		t.Errorf("expected none, got %q", got)
	}
	if got := adviceAction(nil, ReconnectHandshake); got != ReconnectHandshake {
		t.Errorf("expected the fallback, got %q", got)
	}
	if d, ok := adviceDuration(advice, adviceInterval); !ok || d != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %s (%v)", d, ok)
	}
	if _, ok := adviceDuration(advice, adviceTimeout); ok {
		t.Error("expected a missing timeout to be reported")
	}
}
