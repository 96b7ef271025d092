package gobayeuxtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sigmavirus24/gobayeux/v3"
)

const (
	VERSION = "1.0"
)

var (
	chars    = []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmonpqrstuvwxyz0123456789")
	numChars = len(chars)
)

type Logger interface {
	Log(args ...any)
	Logf(format string, args ...any)
}

type session struct {
	subs    []*gobayeux.ChannelID
	pending []gobayeux.Message
}

// Server is a scripted Bayeux server. It can stand in for the network as an
// http.RoundTripper or serve real requests as an http.Handler.
type Server struct {
	log Logger

	mu       sync.Mutex
	running  bool
	sessions map[string]*session
	requests []gobayeux.Message

	handshakeError  bool
	advice          map[string]interface{}
	connectDelay    time.Duration
	connectionTypes []string
	heartbeat       bool
}

func NewServer(logger Logger, opts ...ServerOpts) *Server {
	server := &Server{
		log:      logger,
		sessions: make(map[string]*session),
		advice: map[string]interface{}{
			"reconnect": gobayeux.ReconnectRetry,
			"interval":  int64(50),
			"timeout":   int64(1000),
		},
		heartbeat: true,
	}

	for _, opt := range opts {
		opt.apply(server)
	}

	return server
}

func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = true

	return nil
}

func (s *Server) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false

	return nil
}

// ForgetSessions drops every session as if the server had restarted
func (s *Server) ForgetSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*session)
}

// Requests returns every message received so far
func (s *Server) Requests() []gobayeux.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gobayeux.Message(nil), s.requests...)
}

// RequestsOn returns the messages received on channel
func (s *Server) RequestsOn(channel gobayeux.Channel) []gobayeux.Message {
	var ms []gobayeux.Message
	for _, m := range s.Requests() {
		if m.Channel() == channel {
			ms = append(ms, m)
		}
	}
	return ms
}

func (s *Server) RoundTrip(req *http.Request) (*http.Response, error) {
	defer func() {
		if err := req.Body.Close(); err != nil {
			s.log.Logf("could not close test server request body: %+v", err)
		}
	}()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("issue reading body (%w)", err)
	}

	statusCode, reply, err := s.handle(req.Context(), body)
	if err != nil {
		return nil, err
	}

	return &http.Response{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(reply)),
		Request:    req,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	statusCode, reply, err := s.handle(req.Context(), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(reply); err != nil {
		s.log.Logf("could not write test server response: %+v", err)
	}
}

func (s *Server) handle(ctx context.Context, body []byte) (int, []byte, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return 0, nil, errors.New("server not running")
	}

	msgs, err := gobayeux.ParseMessages(body)
	if err != nil {
		s.mu.Unlock()
		return http.StatusUnprocessableEntity, nil, nil
	}
	s.requests = append(s.requests, msgs...)

	replies := []gobayeux.Message{}
	hold := false

	for _, msg := range msgs {
		switch msg.Channel() {
		case gobayeux.MetaHandshake:
			if s.handshakeError {
				s.mu.Unlock()
				// For error parsing tests, always return a 400 Bad Request for handshake
				reply, _ := json.Marshal(`{"error":"Invalid request"}`)
				return http.StatusBadRequest, reply, nil
			}
			clientID := generateID(10)
			s.sessions[clientID] = &session{}

			types := s.connectionTypes
			if types == nil {
				types = msg.SupportedConnectionTypes()
			}
			reply := s.reply(msg, clientID)
			reply[gobayeux.FieldVersion] = VERSION
			reply[gobayeux.FieldSupportedConnectionTypes] = types
			reply[gobayeux.FieldAdvice] = s.advice
			replies = append(replies, reply)
		case gobayeux.MetaConnect:
			sess, ok := s.sessions[msg.ClientID()]
			if !ok {
				reply := s.reply(msg, msg.ClientID())
				reply.SetSuccessful(false)
				reply.SetError("402::Unknown client")
				reply[gobayeux.FieldAdvice] = map[string]interface{}{"reconnect": gobayeux.ReconnectHandshake}
				replies = append(replies, reply)
				continue
			}

			if s.heartbeat {
				for _, id := range sess.subs {
					if id.IsWild() {
						continue
					}
					m := gobayeux.NewMessage(id.Channel())
					m.SetID(generateID(5))
					m.SetData(map[string]interface{}{})
					replies = append(replies, m)
				}
			}
			replies = append(replies, sess.pending...)
			sess.pending = nil
			hold = len(replies) == 0

			reply := s.reply(msg, msg.ClientID())
			reply[gobayeux.FieldAdvice] = s.advice
			replies = append(replies, reply)
		case gobayeux.MetaSubscribe:
			reply := s.reply(msg, msg.ClientID())
			reply[gobayeux.FieldSubscription] = msg.Subscription()
			sess, ok := s.sessions[msg.ClientID()]
			if !ok {
				reply.SetSuccessful(false)
				reply.SetError("402::Unknown client")
				replies = append(replies, reply)
				continue
			}

			id, err := gobayeux.ParseChannelID(string(msg.Subscription()))
			if err != nil {
				reply.SetSuccessful(false)
				reply.SetError(fmt.Sprintf("400:%s:invalid channel", msg.Subscription()))
				replies = append(replies, reply)
				continue
			}

			for _, sub := range sess.subs {
				if sub.Equal(id) {
					reply.SetSuccessful(false)
					reply.SetError(fmt.Sprintf("403:%s:already subscribed", id))
				}
			}
			if reply.Successful() {
				sess.subs = append(sess.subs, id)
			}

			replies = append(replies, reply)
		case gobayeux.MetaUnsubscribe:
			reply := s.reply(msg, msg.ClientID())
			reply[gobayeux.FieldSubscription] = msg.Subscription()

			found := false
			if sess, ok := s.sessions[msg.ClientID()]; ok {
				subs := []*gobayeux.ChannelID{}
				for _, id := range sess.subs {
					if id.Channel() == msg.Subscription() {
						found = true
						continue
					}
					subs = append(subs, id)
				}
				sess.subs = subs
			}

			if !found {
				reply.SetSuccessful(false)
				reply.SetError(fmt.Sprintf("403:%s:not subscribed", msg.Subscription()))
			}

			replies = append(replies, reply)
		case gobayeux.MetaDisconnect:
			delete(s.sessions, msg.ClientID())
			replies = append(replies, s.reply(msg, msg.ClientID()))
		default:
			if strings.HasPrefix(string(msg.Channel()), "/meta/") {
				s.log.Logf("unhandled: %+v", msg)
				continue
			}
			s.publish(msg)
			replies = append(replies, s.reply(msg, msg.ClientID()))
		}
	}
	delay := s.connectDelay
	s.mu.Unlock()

	if hold && delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}

	reply, err := json.Marshal(replies)
	if err != nil {
		return 0, nil, fmt.Errorf("issue marshaling body (%w)", err)
	}

	return http.StatusOK, reply, nil
}

// publish queues msg for every session subscribed to a matching channel
func (s *Server) publish(msg gobayeux.Message) {
	id, err := gobayeux.ParseChannelID(string(msg.Channel()))
	if err != nil {
		return
	}
	for _, sess := range s.sessions {
		for _, sub := range sess.subs {
			if sub.Matches(id) {
				m := gobayeux.NewMessage(msg.Channel())
				m.SetID(generateID(5))
				m.SetData(msg.Data())
				sess.pending = append(sess.pending, m)
				break
			}
		}
	}
}

func (s *Server) reply(msg gobayeux.Message, clientID string) gobayeux.Message {
	reply := gobayeux.NewMessage(msg.Channel())
	if id := msg.ID(); id != "" {
		reply.SetID(id)
	}
	if clientID != "" {
		reply.SetClientID(clientID)
	}
	reply.SetSuccessful(true)
	return reply
}

func generateID(length int) string {
	ret := make([]rune, length)
	for i := range ret {
		ret[i] = chars[rand.Intn(numChars)]
	}

	return string(ret)
}
