package gobayeux

import (
	"net/http"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultBackoffIncrement is added to the backoff after each failure
	DefaultBackoffIncrement = time.Second
	// DefaultMaxBackoff caps the backoff
	DefaultMaxBackoff = 30 * time.Second
)

// Options configures a BayeuxClient and the high-level Client
type Options struct {
	Logger Logger

	// HTTPClient and HTTPTransport configure the default long-polling
	// transport
	HTTPClient             *http.Client
	HTTPTransport          http.RoundTripper
	Headers                http.Header
	AppendMessageType      bool
	MaxNetworkDelay        time.Duration
	MaxConcurrentExchanges int

	BackoffIncrement time.Duration
	MaxBackoff       time.Duration
	// Timeout and Interval seed the advice used until the server sends its
	// own
	Timeout  time.Duration
	Interval time.Duration

	Clock      clock.Clock
	Registerer prometheus.Registerer
	Transports []Transport
	Extensions []Extension

	// IgnoreError lets the high-level Client keep running through errors
	// it would otherwise report and stop on
	IgnoreError func(error) bool

	errs *multierror.Error
}

// Option changes Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:           newNullLogger(),
		BackoffIncrement: DefaultBackoffIncrement,
		MaxBackoff:       DefaultMaxBackoff,
		MaxNetworkDelay:  DefaultMaxNetworkDelay,
		Clock:            clock.New(),
		IgnoreError:      func(error) bool { return false },
	}
}

func newOptions(opts ...Option) (*Options, error) {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	if options.MaxBackoff < options.BackoffIncrement {
		options.errs = multierror.Append(options.errs, InvalidOptionError{"maxBackoff", options.MaxBackoff})
	}
	return options, options.errs.ErrorOrNil()
}

func (o *Options) invalid(name string, value interface{}) {
	o.errs = multierror.Append(o.errs, InvalidOptionError{name, value})
}

// WithHTTPClient sets the HTTP client used by the long-polling transport
func WithHTTPClient(client *http.Client) Option {
	return func(options *Options) {
		options.HTTPClient = client
	}
}

// WithHTTPTransport sets the RoundTripper used by the long-polling transport
func WithHTTPTransport(transport http.RoundTripper) Option {
	return func(options *Options) {
		options.HTTPTransport = transport
	}
}

// WithHeader adds a header to every request
func WithHeader(name, value string) Option {
	return func(options *Options) {
		if options.Headers == nil {
			options.Headers = make(http.Header)
		}
		options.Headers.Add(name, value)
	}
}

// WithBackoff sets how the delay between reconnection attempts grows
func WithBackoff(increment, maximum time.Duration) Option {
	return func(options *Options) {
		if increment < 0 {
			options.invalid("backoffIncrement", increment)
			return
		}
		if maximum < 0 {
			options.invalid("maxBackoff", maximum)
			return
		}
		options.BackoffIncrement = increment
		options.MaxBackoff = maximum
	}
}

// WithMaxNetworkDelay bounds every exchange. /meta/connect exchanges get the
// advised timeout on top.
func WithMaxNetworkDelay(delay time.Duration) Option {
	return func(options *Options) {
		if delay <= 0 {
			options.invalid("maxNetworkDelay", delay)
			return
		}
		options.MaxNetworkDelay = delay
	}
}

// WithMaxConcurrentExchanges sets how many exchanges the long-polling
// transport keeps in flight
func WithMaxConcurrentExchanges(n int) Option {
	return func(options *Options) {
		if n < 1 {
			options.invalid("maxConcurrentExchanges", n)
			return
		}
		options.MaxConcurrentExchanges = n
	}
}

// WithAppendMessageType appends the meta channel sub-type to the request URL
func WithAppendMessageType(appendType bool) Option {
	return func(options *Options) {
		options.AppendMessageType = appendType
	}
}

// WithAdvice seeds the connect timeout and interval used until the server
// advises otherwise
func WithAdvice(timeout, interval time.Duration) Option {
	return func(options *Options) {
		options.Timeout = timeout
		options.Interval = interval
	}
}

// WithClock replaces the clock used for scheduling
func WithClock(c clock.Clock) Option {
	return func(options *Options) {
		options.Clock = c
	}
}

// WithMetricsRegisterer exports transport metrics to reg
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(options *Options) {
		options.Registerer = reg
	}
}

// WithTransports replaces the default long-polling transport. Transports
// are preferred in the order given.
func WithTransports(transports ...Transport) Option {
	return func(options *Options) {
		options.Transports = append(options.Transports, transports...)
	}
}

// WithExtension registers an extension when the client is created
func WithExtension(ext Extension) Option {
	return func(options *Options) {
		options.Extensions = append(options.Extensions, ext)
	}
}

// WithIgnoreError decides which errors the high-level Client keeps running
// through
func WithIgnoreError(ignore func(err error) bool) Option {
	return func(options *Options) {
		options.IgnoreError = ignore
	}
}

type optionsMap struct {
	BackoffIncrement       *int64 `mapstructure:"backoffIncrement"`
	MaxBackoff             *int64 `mapstructure:"maxBackoff"`
	Timeout                *int64 `mapstructure:"timeout"`
	Interval               *int64 `mapstructure:"interval"`
	MaxNetworkDelay        *int64 `mapstructure:"maxNetworkDelay"`
	MaxConcurrentExchanges *int   `mapstructure:"maxConcurrentExchanges"`
	AppendMessageType      *bool  `mapstructure:"appendMessageType"`
}

// WithOptionsMap applies the classic CometD option names. Durations are in
// milliseconds. Unknown keys and values of the wrong type are reported by
// NewBayeuxClient.
func WithOptionsMap(values map[string]interface{}) Option {
	return func(options *Options) {
		var decoded optionsMap
		var md mapstructure.Metadata
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &decoded,
			Metadata:         &md,
			WeaklyTypedInput: true,
		})
		if err != nil {
			options.errs = multierror.Append(options.errs, err)
			return
		}
		if err := decoder.Decode(values); err != nil {
			options.errs = multierror.Append(options.errs, err)
			return
		}
		sort.Strings(md.Unused)
		for _, key := range md.Unused {
			options.errs = multierror.Append(options.errs, UnknownOptionError{key})
		}

		increment, maximum := options.BackoffIncrement, options.MaxBackoff
		if decoded.BackoffIncrement != nil {
			increment = millis(*decoded.BackoffIncrement)
		}
		if decoded.MaxBackoff != nil {
			maximum = millis(*decoded.MaxBackoff)
		}
		WithBackoff(increment, maximum)(options)
		if decoded.Timeout != nil {
			options.Timeout = millis(*decoded.Timeout)
		}
		if decoded.Interval != nil {
			options.Interval = millis(*decoded.Interval)
		}
		if decoded.MaxNetworkDelay != nil {
			WithMaxNetworkDelay(millis(*decoded.MaxNetworkDelay))(options)
		}
		if decoded.MaxConcurrentExchanges != nil {
			WithMaxConcurrentExchanges(*decoded.MaxConcurrentExchanges)(options)
		}
		if decoded.AppendMessageType != nil {
			options.AppendMessageType = *decoded.AppendMessageType
		}
	}
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
