package gobayeux

import (
	"fmt"
	"sync"
)

// clientSubscription ties a channel requested through Client.Subscribe to
// the Go channel receiving its messages and to the live session handle
type clientSubscription struct {
	msgs chan []Message
	sub  *Subscription
}

type subscribeFunc func(Channel, chan []Message) (*Subscription, error)

type subscriptionsMap struct {
	lock sync.Mutex
	subs map[Channel]*clientSubscription
}

func newSubscriptionsMap() *subscriptionsMap {
	return &subscriptionsMap{subs: make(map[Channel]*clientSubscription)}
}

// Add registers ms for channel and subscribes right away through subscribe
// when it is not nil
func (sm *subscriptionsMap) Add(channel Channel, ms chan []Message, subscribe subscribeFunc) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	if _, ok := sm.subs[channel]; ok {
		return fmt.Errorf("channel '%s' already subscribed", channel)
	}
	entry := &clientSubscription{msgs: ms}
	if subscribe != nil {
		sub, err := subscribe(channel, ms)
		if err != nil {
			return err
		}
		entry.sub = sub
	}
	sm.subs[channel] = entry
	return nil
}

// Remove forgets channel and returns the session handle to release
func (sm *subscriptionsMap) Remove(channel Channel) *Subscription {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	entry, ok := sm.subs[channel]
	if !ok {
		return nil
	}
	delete(sm.subs, channel)
	return entry.sub
}

func (sm *subscriptionsMap) Get(channel Channel) (chan []Message, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	entry, ok := sm.subs[channel]
	if !ok {
		return nil, fmt.Errorf("channel '%s' has no subscriptions", channel)
	}
	return entry.msgs, nil
}

// Resubscribe replaces every session handle with a fresh one. The old handle
// is released after the new one is taken so the server never sees an
// unsubscribe for a channel that stays subscribed.
func (sm *subscriptionsMap) Resubscribe(subscribe subscribeFunc) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	var firstErr error
	for channel, entry := range sm.subs {
		sub, err := subscribe(channel, entry.msgs)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if entry.sub != nil {
			entry.sub.Channel().Unsubscribe(entry.sub)
		}
		entry.sub = sub
	}
	return firstErr
}
