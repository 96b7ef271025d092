package gobayeux

import (
	"errors"
	"testing"
)

func TestSubscriptionsMap_Add(t *testing.T) {
	sm := newSubscriptionsMap()
	want := make(chan []Message)
	defer close(want)
	if err := sm.Add("/foo/bar", want, nil); err != nil {
		t.Errorf("expected successful addition but got err %q", err)
	}

	got, ok := sm.subs["/foo/bar"]
	if !ok {
		t.Fatal("channel was not registered properly")
	}

	if want != got.msgs {
		t.Error("chan received was not the chan registered")
	}

	if err := sm.Add("/foo/bar", want, nil); err == nil {
		t.Error("expected adding a channel twice to fail")
	}
}

func TestSubscriptionsMap_AddSubscribes(t *testing.T) {
	s := newFakeSession(t)
	sm := newSubscriptionsMap()
	want := make(chan []Message)

	var called Channel
	err := sm.Add("/foo/bar", want, func(ch Channel, ms chan []Message) (*Subscription, error) {
		called = ch
		if ms != want {
			t.Error("subscribe got the wrong chan")
		}
		return s.client.Subscribe(ch, nil)
	})
	if err != nil {
		t.Fatalf("expected successful addition but got err %q", err)
	}
	if called != "/foo/bar" {
		t.Errorf("expected subscribe for /foo/bar, got %q", called)
	}
	if sm.subs["/foo/bar"].sub == nil {
		t.Error("session handle was not kept")
	}

	failing := func(Channel, chan []Message) (*Subscription, error) {
		return nil, errors.New("boom")
	}
	if err := sm.Add("/foo/baz", want, failing); err == nil {
		t.Error("expected the subscribe error to be returned")
	}
	if _, err := sm.Get("/foo/baz"); err == nil {
		t.Error("failed subscription should not be registered")
	}
}

func TestSubscriptionsMap_Remove(t *testing.T) {
	sm := newSubscriptionsMap()
	want := make(chan []Message)
	defer close(want)
	if err := sm.Add("/foo/bar", want, nil); err != nil {
		t.Errorf("unable to add subscription for test: %q", err)
	}

	if ls := len(sm.subs); ls != 1 {
		t.Errorf("expected ls to be 1, got %d", ls)
	}

	sm.Remove("/foo/bar")

	if ls := len(sm.subs); ls != 0 {
		t.Errorf("expected ls to be 0, got %d", ls)
	}

	if sub := sm.Remove("/foo/bar"); sub != nil {
		t.Error("expected nothing to release for an unknown channel")
	}
}

func TestSubscriptionsMap_Get(t *testing.T) {
	sm := newSubscriptionsMap()
	if _, err := sm.Get("/foo/bar"); err == nil {
		t.Error("expected '/foo/bar' to not have a subscription, but had one")
	}

	want := make(chan []Message)
	sm.subs["/foo/bar"] = &clientSubscription{msgs: want}
	if got, err := sm.Get("/foo/bar"); want != got {
		if err != nil {
			t.Errorf("expected Get(\"/foo/bar\") to return without error but got %q", err)
		} else {
			t.Error("chan retrieved was not the chan registered")
		}
	}
}

func TestSubscriptionsMap_Resubscribe(t *testing.T) {
	s := newFakeSession(t)
	sm := newSubscriptionsMap()
	subscribe := func(ch Channel, _ chan []Message) (*Subscription, error) {
		return s.client.Subscribe(ch, func(*SessionChannel, Message) {})
	}

	if err := sm.Add("/foo/bar", make(chan []Message), subscribe); err != nil {
		t.Fatalf("unable to add subscription for test: %q", err)
	}
	old := sm.subs["/foo/bar"].sub

	if err := sm.Resubscribe(subscribe); err != nil {
		t.Fatalf("expected Resubscribe to succeed, got %q", err)
	}
	renewed := sm.subs["/foo/bar"].sub
	if renewed == old {
		t.Error("expected a fresh session handle")
	}
	if n := renewed.Channel().SubscriptionCount(); n != 1 {
		t.Errorf("expected exactly one subscriber after Resubscribe, got %d", n)
	}
}

func BenchmarkSubscriptionsMapAddToEmpty(b *testing.B) {
	for i := 0; i < b.N; i++ {
		sm := newSubscriptionsMap()
		_ = sm.Add("/foo/bar", nil, nil)
	}
}
