package gobayeux

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// Client is a high-level abstraction over BayeuxClient delivering messages
// on Go channels
type Client struct {
	client        *BayeuxClient
	logger        Logger
	ignoreError   func(error) bool
	subscriptions *subscriptionsMap
	listeners     []*Subscription

	stopped atomic.Bool
	done    chan struct{}

	errLock sync.Mutex
	errs    chan error
	closed  bool
}

// NewClient creates a new high-level client
func NewClient(serverAddress string, opts ...Option) (*Client, error) {
	bc, err := NewBayeuxClient(serverAddress, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		client:        bc,
		logger:        bc.logger.WithField("client", "high-level"),
		ignoreError:   bc.options.IgnoreError,
		subscriptions: newSubscriptionsMap(),
		done:          make(chan struct{}),
	}, nil
}

// Session exposes the underlying BayeuxClient
func (c *Client) Session() *BayeuxClient {
	return c.client
}

// Subscribe asks for the messages of ch to be delivered on receiving. The
// subscription is renewed after every handshake. receiving must be drained.
func (c *Client) Subscribe(ch Channel, receiving chan []Message) {
	var subscribe subscribeFunc
	if c.client.IsHandshook() {
		subscribe = c.subscribe
	}
	if err := c.subscriptions.Add(ch, receiving, subscribe); err != nil {
		c.report(err)
	}
}

// Unsubscribe stops the delivery of ch
func (c *Client) Unsubscribe(ch Channel) {
	if sub := c.subscriptions.Remove(ch); sub != nil {
		sub.Channel().Unsubscribe(sub)
	}
}

// Start handshakes with the server in the background. Failures are reported
// on the returned channel; the session is aborted on the first one not
// ignored through WithIgnoreError. The channel is closed when the client
// stops, either after such a failure, after Disconnect or once ctx is done.
func (c *Client) Start(ctx context.Context) <-chan error {
	errs := make(chan error, 8)
	c.errLock.Lock()
	c.errs = errs
	c.errLock.Unlock()

	c.listen(MetaHandshake, c.onHandshake)
	for _, meta := range []Channel{MetaConnect, MetaSubscribe, MetaUnsubscribe, MetaDisconnect} {
		c.listen(meta, c.onMeta)
	}

	go c.run(ctx)
	return errs
}

// Publish sends messages as one batch. Only the channel, data and id of each
// message are used.
func (c *Client) Publish(ctx context.Context, messages []Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var result *multierror.Error
	c.client.Batch(func() {
		for _, m := range messages {
			ch, err := c.client.Channel(m.Channel())
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			if err := ch.PublishWithID(m.Data(), m.ID()); err != nil {
				result = multierror.Append(result, err)
			}
		}
	})
	return result.ErrorOrNil()
}

// Disconnect issues a /meta/disconnect request to the Bayeux server and
// waits for the reply until ctx is done, at which point the session is
// aborted.
func (c *Client) Disconnect(ctx context.Context) error {
	c.client.Disconnect()
	defer c.stop()
	for {
		if c.client.WaitFor(waitRecheck, StateDisconnected) == StateDisconnected {
			return nil
		}
		select {
		case <-ctx.Done():
			c.client.Abort()
			return DisconnectFailedError{ctx.Err()}
		default:
		}
	}
}

func (c *Client) run(ctx context.Context) {
	if err := c.client.Handshake(nil); err != nil {
		c.report(HandshakeFailedError{err})
		return
	}

	select {
	case <-ctx.Done():
		c.client.Disconnect()
		if c.client.WaitFor(c.client.options.MaxNetworkDelay, StateDisconnected) != StateDisconnected {
			c.client.Abort()
		}
		c.stop()
	case <-c.done:
	}
}

func (c *Client) listen(name Channel, listener MessageListener) {
	ch, err := c.client.Channel(name)
	if err != nil {
		return
	}
	c.listeners = append(c.listeners, ch.AddListener(listener))
}

func (c *Client) subscribe(ch Channel, receiving chan []Message) (*Subscription, error) {
	return c.client.Subscribe(ch, func(_ *SessionChannel, m Message) {
		if receiving == nil {
			return
		}
		select {
		case receiving <- []Message{m}:
		case <-c.done:
		}
	})
}

func (c *Client) onHandshake(_ *SessionChannel, m Message) {
	if !m.Successful() {
		c.report(HandshakeFailedError{MessageFailedError{MetaHandshake, m.ErrorString()}})
		return
	}
	if err := c.subscriptions.Resubscribe(c.subscribe); err != nil {
		c.report(err)
	}
}

func (c *Client) onMeta(_ *SessionChannel, m Message) {
	if m.Successful() {
		return
	}
	err := error(MessageFailedError{m.Channel(), m.ErrorString()})
	switch m.Channel() {
	case MetaSubscribe:
		err = SubscriptionFailedError{[]Channel{m.Subscription()}, err}
	case MetaUnsubscribe:
		err = UnsubscribeFailedError{[]Channel{m.Subscription()}, err}
	case MetaConnect:
		err = ConnectionFailedError{err}
	case MetaDisconnect:
		err = DisconnectFailedError{err}
	}
	c.report(err)
}

// report hands err to the application and stops the client unless err is
// ignored
func (c *Client) report(err error) {
	if c.ignoreError(err) {
		c.logger.WithError(err).Debug("ignoring error")
		return
	}

	c.errLock.Lock()
	if c.errs != nil && !c.closed {
		select {
		case c.errs <- err:
		default:
			c.logger.WithError(err).Warn("error channel full, dropping error")
		}
	}
	c.errLock.Unlock()

	if !c.stopped.Load() {
		c.client.Abort()
		c.stop()
	}
}

func (c *Client) stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	for _, l := range c.listeners {
		l.Channel().RemoveListener(l)
	}

	c.errLock.Lock()
	defer c.errLock.Unlock()
	if c.errs != nil && !c.closed {
		close(c.errs)
	}
	c.closed = true
}
