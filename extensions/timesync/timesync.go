// Package timesync implements the client side of the Bayeux timesync
// extension, estimating the network lag and the offset of the server clock.
//
// See also: https://docs.cometd.org/current/reference/#_extensions_timesync
package timesync

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	bayeux "github.com/sigmavirus24/gobayeux/v3"
)

// ExtensionName is the ext field carrying the timesync data
const ExtensionName = "timesync"

// Extension keeps running averages of lag and clock offset, in milliseconds
type Extension struct {
	bayeux.BaseExtension

	clock clock.Clock

	lock   sync.Mutex
	lag    int64
	offset int64
}

// New creates a new extension instance using the wall clock
func New() *Extension {
	return NewWithClock(clock.New())
}

// NewWithClock creates a new extension instance reading time from c
func NewWithClock(c clock.Clock) *Extension {
	return &Extension{clock: c}
}

// Lag is the estimated one way network delay
func (e *Extension) Lag() time.Duration {
	e.lock.Lock()
	defer e.lock.Unlock()
	return time.Duration(e.lag) * time.Millisecond
}

// Offset is the estimated difference between the server and local clocks
func (e *Extension) Offset() time.Duration {
	e.lock.Lock()
	defer e.lock.Unlock()
	return time.Duration(e.offset) * time.Millisecond
}

// ServerTime is the current time on the server according to the estimates
func (e *Extension) ServerTime() time.Time {
	return e.clock.Now().Add(e.Offset())
}

// ReceiveMeta folds the server's timesync reply into the estimates
func (e *Extension) ReceiveMeta(_ *bayeux.BayeuxClient, m bayeux.Message) bool {
	ext := m.Ext()
	if ext == nil {
		return true
	}
	data, ok := ext[ExtensionName].(map[string]interface{})
	if !ok {
		return true
	}

	now := e.clock.Now().UnixMilli()
	tc := number(data["tc"])
	ts := number(data["ts"])
	p := number(data["p"])

	l2 := (now - tc - p) / 2
	o2 := ts - tc - l2

	e.lock.Lock()
	defer e.lock.Unlock()
	if e.lag == 0 {
		e.lag = l2
	} else {
		e.lag = (e.lag + l2) / 2
	}
	if e.offset == 0 {
		e.offset = o2
	} else {
		e.offset = (e.offset + o2) / 2
	}
	return true
}

// SendMeta stamps every meta message with the local time and the current
// estimates
func (e *Extension) SendMeta(_ *bayeux.BayeuxClient, m bayeux.Message) bool {
	e.lock.Lock()
	lag, offset := e.lag, e.offset
	e.lock.Unlock()

	m.GetExt(true)[ExtensionName] = map[string]interface{}{
		"tc": e.clock.Now().UnixMilli(),
		"l":  lag,
		"o":  offset,
	}
	return true
}

func number(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
