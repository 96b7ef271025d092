package gobayeux

import "sync"

// Extension intercepts every message the session sends or receives. Each
// hook returns false to drop the message: a dropped outbound message is not
// sent and a dropped inbound message is not delivered. No error is raised.
//
// Extensions run in registration order in both directions.
//
// See also: https://docs.cometd.org/current/reference/#_extensions
type Extension interface {
	// Receive is called for inbound messages on non-meta channels
	Receive(client *BayeuxClient, m Message) bool
	// ReceiveMeta is called for inbound messages on /meta/ channels
	ReceiveMeta(client *BayeuxClient, m Message) bool
	// Send is called for outbound messages on non-meta channels
	Send(client *BayeuxClient, m Message) bool
	// SendMeta is called for outbound messages on /meta/ channels
	SendMeta(client *BayeuxClient, m Message) bool
}

// RegistrationAware is implemented by extensions that want to know when they
// are added to or removed from a client
type RegistrationAware interface {
	Registered(client *BayeuxClient)
	Unregistered()
}

// BaseExtension lets every message through. Embed it to implement only the
// hooks you need.
type BaseExtension struct{}

// Receive implements Extension
func (BaseExtension) Receive(*BayeuxClient, Message) bool { return true }

// ReceiveMeta implements Extension
func (BaseExtension) ReceiveMeta(*BayeuxClient, Message) bool { return true }

// Send implements Extension
func (BaseExtension) Send(*BayeuxClient, Message) bool { return true }

// SendMeta implements Extension
func (BaseExtension) SendMeta(*BayeuxClient, Message) bool { return true }

type extensionPipeline struct {
	lock sync.RWMutex
	exts []Extension
}

func (p *extensionPipeline) add(ext Extension) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, registered := range p.exts {
		if registered == ext {
			return AlreadyRegisteredError{ext}
		}
	}
	p.exts = append(p.exts, ext)
	return nil
}

func (p *extensionPipeline) remove(ext Extension) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	for i, registered := range p.exts {
		if registered == ext {
			p.exts = append(p.exts[:i:i], p.exts[i+1:]...)
			return true
		}
	}
	return false
}

func (p *extensionPipeline) snapshot() []Extension {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return append([]Extension(nil), p.exts...)
}

func (p *extensionPipeline) extendSend(client *BayeuxClient, m Message) bool {
	meta := m.IsMeta()
	for _, ext := range p.snapshot() {
		var ok bool
		if meta {
			ok = ext.SendMeta(client, m)
		} else {
			ok = ext.Send(client, m)
		}
		if !ok {
			return false
		}
	}
	return true
}

func (p *extensionPipeline) extendReceive(client *BayeuxClient, m Message) bool {
	meta := m.IsMeta()
	for _, ext := range p.snapshot() {
		var ok bool
		if meta {
			ok = ext.ReceiveMeta(client, m)
		} else {
			ok = ext.Receive(client, m)
		}
		if !ok {
			return false
		}
	}
	return true
}
