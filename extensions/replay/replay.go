package replay

import (
	"sync"
	"sync/atomic"

	bayeux "github.com/sigmavirus24/gobayeux/v3"
)

const (
	// ExtensionName is the name used by Salesforce for its Bayeux extensions
	ExtensionName string = "replay"
	eventKey      string = "event"
	replayIDKey   string = "replayId"
)

// Extension represents the structure of the Salesforce Bayeux
// Message Extension and manages the state
type Extension struct {
	bayeux.BaseExtension

	supportedByServer atomic.Bool
	replayStore       IDStorer
}

// IDStorer stores and manages the channels and replay IDs for a bayeux
// server that supports the replay extension
type IDStorer interface {
	Set(channel string, replayID int)
	Get(channel string) (int, bool)
	Delete(channel string)
	AsMap() map[string]int
}

// New creates a new extension instance keeping replay IDs in memory
func New() *Extension {
	return NewWithStorage(NewMapStorage())
}

// NewWithStorage creates a new extension instance keeping replay IDs in store
func NewWithStorage(store IDStorer) *Extension {
	return &Extension{replayStore: store}
}

// SendMeta asks for replay support on handshake and sends the known replay
// IDs along with subscriptions
func (e *Extension) SendMeta(_ *bayeux.BayeuxClient, m bayeux.Message) bool {
	switch m.Channel() {
	case bayeux.MetaHandshake:
		ext := m.GetExt(true)
		ext[ExtensionName] = true
	case bayeux.MetaSubscribe:
		if e.isSupported() {
			ext := m.GetExt(true)
			ext[ExtensionName] = e.replayStore.AsMap()
		}
	}
	return true
}

// ReceiveMeta records whether the server supports replay and forgets the
// replay IDs of channels we unsubscribed from
func (e *Extension) ReceiveMeta(_ *bayeux.BayeuxClient, m bayeux.Message) bool {
	switch m.Channel() {
	case bayeux.MetaHandshake:
		if ext := m.Ext(); ext != nil {
			if isSupported, ok := ext[ExtensionName].(bool); ok && isSupported {
				e.supportedByServer.Store(true)
			}
		}
	case bayeux.MetaUnsubscribe:
		if m.Successful() {
			e.replayStore.Delete(string(m.Subscription()))
		}
	}
	return true
}

// Receive tracks the latest replay ID seen on each broadcast channel
func (e *Extension) Receive(_ *bayeux.BayeuxClient, m bayeux.Message) bool {
	if m.Channel().Type() == bayeux.BroadcastChannel {
		e.updateReplayID(m)
	}
	return true
}

// Unregistered is called when an extension is unregistered
func (e *Extension) Unregistered() {
	e.supportedByServer.Store(false)
}

// Registered is called after an extension has been successfully registered
func (e *Extension) Registered(*bayeux.BayeuxClient) {}

func (e *Extension) updateReplayID(m bayeux.Message) {
	data := m.DataAsMap()
	if data == nil {
		return
	}
	event, ok := data[eventKey]
	if !ok {
		return
	}
	eventMap, ok := event.(map[string]interface{})
	if !ok {
		return
	}
	replayIDVal, ok := eventMap[replayIDKey]
	if !ok {
		return
	}

	replayID, ok := replayIDVal.(float64)
	if !ok {
		return
	}
	e.replayStore.Set(string(m.Channel()), int(replayID))
}

func (e *Extension) isSupported() bool {
	return e.supportedByServer.Load()
}

// MapStorage implements the IDStorer interface over a regular map with a
// RWMutex protecting the access
type MapStorage struct {
	store map[string]int
	lock  sync.RWMutex
}

// NewMapStorage creates a new MapStorage instance
func NewMapStorage() *MapStorage {
	return &MapStorage{store: make(map[string]int)}
}

// Set implements the IDStorer interface
func (s *MapStorage) Set(channel string, replayID int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.store[channel] = replayID
}

// Get implements the IDStorer interface
func (s *MapStorage) Get(channel string) (replayID int, ok bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	replayID, ok = s.store[channel]
	return
}

// Delete implements the IDStorer interface
func (s *MapStorage) Delete(channel string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.store, channel)
}

// AsMap implements the IDStorer interface
func (s *MapStorage) AsMap() map[string]int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	replay := make(map[string]int)
	for k, v := range s.store {
		replay[k] = v
	}
	return replay
}
