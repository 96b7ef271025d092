package gobayeux

import "sync"

// TransportListener receives the outcome of one exchange. Exactly one of the
// outcome methods is called per Send; OnSending is called right before the
// request goes out.
type TransportListener interface {
	OnSending(messages []Message)
	OnMessages(messages []Message)
	// OnConnectException reports that the server could not be reached
	OnConnectException(err error, messages []Message)
	// OnException reports an I/O failure during the exchange or an abort
	OnException(err error, messages []Message)
	// OnExpire reports that no response arrived before the deadline
	OnExpire(err error, messages []Message)
	// OnProtocolError reports a response that is not a Bayeux batch
	OnProtocolError(info string, messages []Message)
}

// Transport carries batches of messages to the server
type Transport interface {
	// Name is the connection type advertised during the handshake
	Name() string
	// Init prepares the transport for a new session
	Init() error
	// Accept reports whether the transport speaks the given protocol version
	Accept(version string) bool
	// Send delivers messages and reports the outcome to listener
	// asynchronously
	Send(listener TransportListener, messages []Message)
	// Abort cancels every queued and in-flight exchange
	Abort()
	// Reset releases per-session state
	Reset()
}

// adviceAware is implemented by transports that size their deadlines from
// the server's advice
type adviceAware interface {
	SetAdvice(advice map[string]interface{})
}

// TransportRegistry knows the transports available to a session and the
// order in which they are preferred
type TransportRegistry struct {
	lock       sync.RWMutex
	transports map[string]Transport
	known      []string
	allowed    []string
}

// NewTransportRegistry builds an empty registry
func NewTransportRegistry() *TransportRegistry {
	return &TransportRegistry{transports: make(map[string]Transport)}
}

// Add registers t. Transports added first are preferred. Adding a transport
// with a known name replaces it without changing its priority.
func (r *TransportRegistry) Add(t Transport) {
	if t == nil {
		return
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	name := t.Name()
	if _, ok := r.transports[name]; !ok {
		r.known = append(r.known, name)
		r.allowed = append(r.allowed, name)
	}
	r.transports[name] = t
}

// Transport looks a transport up by name
func (r *TransportRegistry) Transport(name string) Transport {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.transports[name]
}

// KnownTransports lists every registered transport name
func (r *TransportRegistry) KnownTransports() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]string(nil), r.known...)
}

// AllowedTransports lists the transport names in priority order
func (r *TransportRegistry) AllowedTransports() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]string(nil), r.allowed...)
}

// SetAllowedTransports restricts and reorders the transports offered to the
// server. Unknown names are ignored.
func (r *TransportRegistry) SetAllowedTransports(names ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	allowed := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := r.transports[name]; ok {
			allowed = append(allowed, name)
		}
	}
	r.allowed = allowed
}

// Negotiate returns, in local priority order, the allowed transports that
// the server also supports and that accept version
func (r *TransportRegistry) Negotiate(serverNames []string, version string) []Transport {
	offered := make(map[string]struct{}, len(serverNames))
	for _, name := range serverNames {
		offered[name] = struct{}{}
	}

	r.lock.RLock()
	defer r.lock.RUnlock()
	var result []Transport
	for _, name := range r.allowed {
		if _, ok := offered[name]; !ok {
			continue
		}
		t := r.transports[name]
		if t.Accept(version) {
			result = append(result, t)
		}
	}
	return result
}
