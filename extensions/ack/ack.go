// Package ack implements the client side of the Bayeux acknowledgement
// extension. When the server supports it every /meta/connect acknowledges
// the batch of messages delivered by the previous one, so the server can
// redeliver what a dropped long poll lost.
//
// See also: https://docs.cometd.org/current/reference/#_extensions_acknowledge
package ack

import (
	"strconv"
	"sync/atomic"

	bayeux "github.com/sigmavirus24/gobayeux/v3"
)

// ExtensionName is the ext field carrying acknowledgements
const ExtensionName = "ack"

// Extension tracks the last batch id announced by the server
type Extension struct {
	bayeux.BaseExtension

	supportedByServer atomic.Bool
	ackID             atomic.Int64
}

// New creates a new extension instance
func New() *Extension {
	e := &Extension{}
	e.ackID.Store(-1)
	return e
}

// AckID is the batch id the next /meta/connect acknowledges, -1 before the
// first one
func (e *Extension) AckID() int64 {
	return e.ackID.Load()
}

// ServerSupportsAcks reports whether the last handshake reply enabled
// acknowledgements
func (e *Extension) ServerSupportsAcks() bool {
	return e.supportedByServer.Load()
}

// ReceiveMeta implements bayeux.Extension
func (e *Extension) ReceiveMeta(_ *bayeux.BayeuxClient, m bayeux.Message) bool {
	switch m.Channel() {
	case bayeux.MetaHandshake:
		ext := m.Ext()
		supported, _ := ext[ExtensionName].(bool)
		e.supportedByServer.Store(ext != nil && supported)
	case bayeux.MetaConnect:
		if !e.ServerSupportsAcks() || !m.Successful() {
			break
		}
		if ext := m.Ext(); ext != nil {
			if id, ok := toInt64(ext[ExtensionName]); ok {
				e.ackID.Store(id)
			}
		}
	}
	return true
}

// SendMeta implements bayeux.Extension
func (e *Extension) SendMeta(_ *bayeux.BayeuxClient, m bayeux.Message) bool {
	switch m.Channel() {
	case bayeux.MetaHandshake:
		m.GetExt(true)[ExtensionName] = true
		e.ackID.Store(-1)
	case bayeux.MetaConnect:
		if e.ServerSupportsAcks() {
			m.GetExt(true)[ExtensionName] = e.ackID.Load()
		}
	}
	return true
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
