package gobayeux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/publicsuffix"
)

const (
	// DefaultMaxConcurrentExchanges is how many exchanges a long-polling
	// transport keeps in flight: one held /meta/connect plus one for
	// everything else.
	DefaultMaxConcurrentExchanges = 2
	// DefaultMaxNetworkDelay bounds an exchange, on top of the advised
	// timeout for /meta/connect
	DefaultMaxNetworkDelay = 10 * time.Second

	contentType = "application/json;charset=UTF-8"
)

// LongPollingTransportOptions configures a LongPollingTransport
type LongPollingTransportOptions struct {
	// HTTPClient performs the exchanges. A pooled client with a cookie jar
	// is created when nil.
	HTTPClient *http.Client
	// RoundTripper replaces the HTTP client's transport when set
	RoundTripper http.RoundTripper
	// Headers are added to every request
	Headers http.Header
	// AppendMessageType appends the meta channel sub-type to the URL path
	// for batches made of a single meta message
	AppendMessageType bool
	// MaxNetworkDelay defaults to DefaultMaxNetworkDelay
	MaxNetworkDelay time.Duration
	// MaxConcurrentExchanges defaults to DefaultMaxConcurrentExchanges
	MaxConcurrentExchanges int
	Logger                 Logger
	Clock                  clock.Clock
	Registerer             prometheus.Registerer
}

// LongPollingTransport sends each batch as an HTTP POST and keeps a bounded
// number of exchanges in flight. Batches beyond that bound wait in a FIFO
// queue.
type LongPollingTransport struct {
	client            *http.Client
	url               string
	headers           http.Header
	appendMessageType bool
	maxNetworkDelay   time.Duration
	maxConcurrent     int
	logger            Logger
	clock             clock.Clock
	metrics           *transportMetrics

	lock           sync.Mutex
	queue          []*exchange
	inFlight       map[*exchange]struct{}
	advisedTimeout time.Duration
}

// exchange is one batch bound to the listener waiting for its outcome
type exchange struct {
	listener TransportListener
	messages []Message
	ctx      context.Context
	cancel   context.CancelFunc
	expiry   time.Duration
}

// NewLongPollingTransport creates a transport that posts to serverURL
func NewLongPollingTransport(serverURL string, options LongPollingTransportOptions) (*LongPollingTransport, error) {
	parsed, err := url.Parse(serverURL)
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
	if options.RoundTripper != nil {
		client.Transport = options.RoundTripper
	}
	if options.Logger == nil {
		options.Logger = newNullLogger()
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	if options.MaxNetworkDelay <= 0 {
		options.MaxNetworkDelay = DefaultMaxNetworkDelay
	}
	if options.MaxConcurrentExchanges <= 0 {
		options.MaxConcurrentExchanges = DefaultMaxConcurrentExchanges
	}

	return &LongPollingTransport{
		client:            client,
		url:               serverURL,
		headers:           options.Headers.Clone(),
		appendMessageType: options.AppendMessageType && parsed.RawQuery == "",
		maxNetworkDelay:   options.MaxNetworkDelay,
		maxConcurrent:     options.MaxConcurrentExchanges,
		logger:            options.Logger.WithField("transport", ConnectionTypeLongPolling),
		clock:             options.Clock,
		metrics:           newTransportMetrics(options.Registerer, ConnectionTypeLongPolling),
		inFlight:          make(map[*exchange]struct{}),
	}, nil
}

// Name implements Transport
func (t *LongPollingTransport) Name() string {
	return ConnectionTypeLongPolling
}

// Init implements Transport
func (t *LongPollingTransport) Init() error {
	return nil
}

// Accept implements Transport
func (t *LongPollingTransport) Accept(version string) bool {
	return true
}

// Reset implements Transport. The transport keeps no per-session state
// besides the advised timeout.
func (t *LongPollingTransport) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.advisedTimeout = 0
}

// SetAdvice records the server's connect timeout, which extends the
// deadline of /meta/connect exchanges
func (t *LongPollingTransport) SetAdvice(advice map[string]interface{}) {
	timeout, ok := adviceDuration(advice, adviceTimeout)
	if !ok {
		return
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	t.advisedTimeout = timeout
}

// HTTPClient returns the client performing the exchanges
func (t *LongPollingTransport) HTTPClient() *http.Client {
	return t.client
}

// InFlight is the number of exchanges currently admitted
func (t *LongPollingTransport) InFlight() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.inFlight)
}

// Queued is the number of exchanges waiting for a slot
func (t *LongPollingTransport) Queued() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.queue)
}

// Send implements Transport
func (t *LongPollingTransport) Send(listener TransportListener, messages []Message) {
	ex := &exchange{listener: listener, messages: messages}

	t.lock.Lock()
	t.queue = append(t.queue, ex)
	admitted := t.admitLocked()
	t.lock.Unlock()

	for _, ex := range admitted {
		go t.perform(ex)
	}
}

// Abort implements Transport. Every queued and in-flight exchange reports
// ErrTransportAborted; responses arriving afterwards are dropped.
func (t *LongPollingTransport) Abort() {
	t.lock.Lock()
	aborted := make([]*exchange, 0, len(t.inFlight)+len(t.queue))
	for ex := range t.inFlight {
		ex.cancel()
		aborted = append(aborted, ex)
	}
	aborted = append(aborted, t.queue...)
	t.inFlight = make(map[*exchange]struct{})
	t.queue = nil
	t.metrics.observe(0, 0)
	t.lock.Unlock()

	for _, ex := range aborted {
		t.metrics.exchanges.WithLabelValues(outcomeAborted).Inc()
		ex.listener.OnException(ErrTransportAborted, ex.messages)
	}
}

// admitLocked moves queued exchanges in flight while slots are free. The
// caller holds t.lock and starts the returned exchanges.
func (t *LongPollingTransport) admitLocked() []*exchange {
	var admitted []*exchange
	for len(t.inFlight) < t.maxConcurrent && len(t.queue) > 0 {
		ex := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]

		ex.expiry = t.expiryLocked(ex.messages)
		ex.ctx, ex.cancel = context.WithTimeout(context.Background(), ex.expiry)
		t.inFlight[ex] = struct{}{}
		admitted = append(admitted, ex)
	}
	t.metrics.observe(len(t.queue), len(t.inFlight))
	return admitted
}

func (t *LongPollingTransport) expiryLocked(messages []Message) time.Duration {
	expiry := t.maxNetworkDelay
	for _, m := range messages {
		if m.Channel() != MetaConnect {
			continue
		}
		if timeout, ok := adviceDuration(m.Advice(), adviceTimeout); ok {
			expiry += timeout
		} else {
			expiry += t.advisedTimeout
		}
		break
	}
	return expiry
}

// release frees the slot held by ex and starts the next queued exchange. It
// reports false when ex was aborted in the meantime.
func (t *LongPollingTransport) release(ex *exchange) bool {
	t.lock.Lock()
	_, ok := t.inFlight[ex]
	if ok {
		delete(t.inFlight, ex)
	}
	admitted := t.admitLocked()
	t.lock.Unlock()

	ex.cancel()
	for _, next := range admitted {
		go t.perform(next)
	}
	return ok
}

func (t *LongPollingTransport) exchangeURL(messages []Message) string {
	if !t.appendMessageType || len(messages) != 1 || !messages[0].IsMeta() {
		return t.url
	}
	kind := strings.TrimPrefix(string(messages[0].Channel()), metaPrefix)
	return strings.TrimSuffix(t.url, "/") + "/" + kind
}

func (t *LongPollingTransport) perform(ex *exchange) {
	target := t.exchangeURL(ex.messages)
	logger := t.logger.WithField("at", "exchange").WithField("url", target).WithField("messages", len(ex.messages))
	start := t.clock.Now()
	logger.Debug("starting")

	content, status, err := t.roundTrip(ex, target)
	duration := t.clock.Since(start)
	t.metrics.duration.Observe(duration.Seconds())
	logger = logger.WithField("duration", duration)

	if !t.release(ex) {
		logger.Debug("dropping response of aborted exchange")
		return
	}

	switch {
	case err != nil && errors.Is(ex.ctx.Err(), context.DeadlineExceeded):
		logger.WithError(err).Debug("exchange expired")
		t.metrics.exchanges.WithLabelValues(outcomeExpired).Inc()
		ex.listener.OnExpire(ExpiredError{URL: target, Timeout: ex.expiry}, ex.messages)
	case err != nil && isConnectError(err):
		logger.WithError(err).Debug("could not reach server")
		t.metrics.exchanges.WithLabelValues(outcomeConnectFailed).Inc()
		ex.listener.OnConnectException(TransportError{URL: target, Err: err}, ex.messages)
	case err != nil:
		logger.WithError(err).Debug("error during request")
		t.metrics.exchanges.WithLabelValues(outcomeException).Inc()
		ex.listener.OnException(TransportError{URL: target, Err: err}, ex.messages)
	case status != http.StatusOK:
		info := BadResponseError{StatusCode: status, Status: http.StatusText(status), Body: content}.Error()
		logger.WithField("status", status).Debug("unexpected response status")
		t.metrics.exchanges.WithLabelValues(outcomeProtocolError).Inc()
		ex.listener.OnProtocolError(info, ex.messages)
	default:
		responses, err := ParseMessages(content)
		if err != nil {
			logger.WithError(err).Debug("error parsing response")
			t.metrics.exchanges.WithLabelValues(outcomeProtocolError).Inc()
			ex.listener.OnProtocolError(err.Error(), ex.messages)
			return
		}
		logger.Debug("finishing")
		t.metrics.exchanges.WithLabelValues(outcomeSuccess).Inc()
		ex.listener.OnMessages(responses)
	}
}

func (t *LongPollingTransport) roundTrip(ex *exchange, target string) ([]byte, int, error) {
	body, err := json.Marshal(ex.messages)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ex.ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	for name, values := range t.headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	ex.listener.OnSending(ex.messages)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return content, resp.StatusCode, nil
}

func isConnectError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
