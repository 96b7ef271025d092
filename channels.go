package gobayeux

import (
	"fmt"
	"sync"
)

// MessageListener is called for each message delivered on a channel
type MessageListener func(channel *SessionChannel, m Message)

// Subscription is the handle returned by Subscribe and AddListener. It is
// used to remove the listener again.
type Subscription struct {
	channel  *SessionChannel
	listener MessageListener
}

// Channel returns the channel the subscription belongs to
func (s *Subscription) Channel() *SessionChannel {
	return s.channel
}

// SessionChannel is the session's view of a channel. It exists as soon as it
// is requested, independently of any subscription on the server.
//
// Listeners see every message on the channel, including failures and meta
// responses. Subscribers only see messages carrying data, and the first
// subscriber makes the session send /meta/subscribe.
type SessionChannel struct {
	id      *ChannelID
	session *BayeuxClient

	// ordering serializes the subscribe and unsubscribe edges with the
	// messages they enqueue
	ordering sync.Mutex

	lock        sync.Mutex
	listeners   []*Subscription
	subscribers []*Subscription
	count       int
}

// ID returns the parsed channel name
func (c *SessionChannel) ID() *ChannelID {
	return c.id
}

// Channel returns the channel name
func (c *SessionChannel) Channel() Channel {
	return c.id.Channel()
}

func (c *SessionChannel) String() string {
	return c.id.String()
}

// SubscriptionCount is the number of active subscribers
func (c *SessionChannel) SubscriptionCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.count
}

// Subscribe adds a subscriber. The session sends /meta/subscribe when this is
// the first one.
func (c *SessionChannel) Subscribe(listener MessageListener) *Subscription {
	sub := &Subscription{channel: c, listener: listener}

	c.ordering.Lock()
	defer c.ordering.Unlock()

	c.lock.Lock()
	c.subscribers = append(c.subscribers, sub)
	c.count++
	first := c.count == 1
	c.lock.Unlock()

	if first {
		c.session.sendSubscription(MetaSubscribe, c.id)
	}
	return sub
}

// Unsubscribe removes a subscriber. The session sends /meta/unsubscribe when
// the last one goes away. Unknown handles are ignored.
func (c *SessionChannel) Unsubscribe(sub *Subscription) {
	c.ordering.Lock()
	defer c.ordering.Unlock()

	c.lock.Lock()
	if !removeSubscription(&c.subscribers, sub) {
		c.lock.Unlock()
		return
	}
	last := false
	if c.count > 0 {
		c.count--
		last = c.count == 0
	}
	c.lock.Unlock()

	if last {
		c.session.sendSubscription(MetaUnsubscribe, c.id)
	}
}

// UnsubscribeAll removes every subscriber
func (c *SessionChannel) UnsubscribeAll() {
	c.lock.Lock()
	subs := append([]*Subscription(nil), c.subscribers...)
	c.lock.Unlock()

	for _, sub := range subs {
		c.Unsubscribe(sub)
	}
}

// AddListener adds a listener. Listeners never cause protocol messages and
// survive re-handshakes.
func (c *SessionChannel) AddListener(listener MessageListener) *Subscription {
	sub := &Subscription{channel: c, listener: listener}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.listeners = append(c.listeners, sub)
	return sub
}

// RemoveListener removes a listener added with AddListener
func (c *SessionChannel) RemoveListener(sub *Subscription) {
	c.lock.Lock()
	defer c.lock.Unlock()
	removeSubscription(&c.listeners, sub)
}

// Publish sends data on the channel
func (c *SessionChannel) Publish(data interface{}) error {
	return c.PublishWithID(data, "")
}

// PublishWithID sends data on the channel with an application chosen id,
// which lets the caller match the server's reply
func (c *SessionChannel) PublishWithID(data interface{}, id string) error {
	builder := NewPublishRequestBuilder()
	if err := builder.AddChannel(c.Channel()); err != nil {
		return err
	}
	builder.AddData(data)
	builder.AddID(id)
	ms, err := builder.Build()
	if err != nil {
		return err
	}
	for _, m := range ms {
		c.session.enqueueSend(m)
	}
	return nil
}

// resetSubscriptions forgets every subscriber without telling the server,
// which has already dropped them along with the old clientId
func (c *SessionChannel) resetSubscriptions() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.subscribers = nil
	c.count = 0
}

func (c *SessionChannel) notify(m Message) {
	c.lock.Lock()
	listeners := append([]*Subscription(nil), c.listeners...)
	var subscribers []*Subscription
	if m.Data() != nil {
		subscribers = append(subscribers, c.subscribers...)
	}
	c.lock.Unlock()

	for _, sub := range listeners {
		c.call(sub, m)
	}
	for _, sub := range subscribers {
		c.call(sub, m)
	}
}

func (c *SessionChannel) call(sub *Subscription, m Message) {
	defer func() {
		if r := recover(); r != nil {
			c.session.logger.
				WithField("at", "notify").
				WithField("channel", c.id.String()).
				WithError(fmt.Errorf("listener panicked: %v", r)).
				Warn("listener failed")
		}
	}()
	if sub.listener != nil {
		sub.listener(c, m)
	}
}

func removeSubscription(subs *[]*Subscription, sub *Subscription) bool {
	for i, s := range *subs {
		if s == sub {
			*subs = append((*subs)[:i:i], (*subs)[i+1:]...)
			return true
		}
	}
	return false
}

type channelRegistry struct {
	lock     sync.RWMutex
	channels map[string]*SessionChannel
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{channels: make(map[string]*SessionChannel)}
}

// getChannel returns the channel for id, creating it on first use
func (r *channelRegistry) getChannel(session *BayeuxClient, id *ChannelID) *SessionChannel {
	r.lock.RLock()
	c, ok := r.channels[id.String()]
	r.lock.RUnlock()
	if ok {
		return c
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if c, ok := r.channels[id.String()]; ok {
		return c
	}
	c = &SessionChannel{id: id, session: session}
	r.channels[id.String()] = c
	return c
}

func (r *channelRegistry) existing(name string) (*SessionChannel, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	c, ok := r.channels[name]
	return c, ok
}

func (r *channelRegistry) all() []*SessionChannel {
	r.lock.RLock()
	defer r.lock.RUnlock()
	channels := make([]*SessionChannel, 0, len(r.channels))
	for _, c := range r.channels {
		channels = append(channels, c)
	}
	return channels
}

func (r *channelRegistry) resetSubscriptions() {
	for _, c := range r.all() {
		c.resetSubscriptions()
	}
}

// dispatch notifies the channel of m and every existing wildcard channel
// matching it
func (r *channelRegistry) dispatch(m Message) error {
	id, err := ParseChannelID(string(m.Channel()))
	if err != nil {
		return err
	}
	if c, ok := r.existing(id.String()); ok {
		c.notify(m)
	}
	for _, pattern := range id.Wilds() {
		c, ok := r.existing(pattern)
		if ok && c.id.Matches(id) {
			c.notify(m)
		}
	}
	return nil
}
