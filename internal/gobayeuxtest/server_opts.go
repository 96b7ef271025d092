package gobayeuxtest

import "time"

type ServerOpts interface {
	apply(s *Server)
}

type serverOptFn func(s *Server)

func (opt serverOptFn) apply(s *Server) {
	opt(s)
}

// WithHandshakeError makes every handshake fail with a 400 response
func WithHandshakeError(handshakeError bool) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.handshakeError = handshakeError
	})
}

// WithAdvice sets the advice attached to handshake and connect replies
func WithAdvice(reconnect string, interval, timeout time.Duration) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.advice = map[string]interface{}{
			"reconnect": reconnect,
			"interval":  interval.Milliseconds(),
			"timeout":   timeout.Milliseconds(),
		}
	})
}

// WithConnectDelay holds /meta/connect replies that carry no messages for d
func WithConnectDelay(d time.Duration) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.connectDelay = d
	})
}

// WithSupportedConnectionTypes sets the connection types announced in the
// handshake reply instead of echoing the client's
func WithSupportedConnectionTypes(types ...string) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.connectionTypes = types
	})
}

// WithHeartbeat makes every /meta/connect reply carry an empty message for
// each non-wildcard channel the client subscribed to
func WithHeartbeat(heartbeat bool) ServerOpts {
	return serverOptFn(func(s *Server) {
		s.heartbeat = heartbeat
	})
}
