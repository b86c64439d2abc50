// Package bus is the in-process pub/sub used for retained state and
// diagnostics. Topics are token paths; subscribers may use "+" for one level
// and a trailing "#" for any remainder. A full subscriber queue drops its
// oldest message so publishers never block.
package bus

import "sync"

// Wildcards.
const (
	Single = "+"
	Multi  = "#"
)

// Topic is a token path such as {"watch", "state"}.
type Topic []string

// T builds a Topic.
func T(tokens ...string) Topic { return Topic(tokens) }

func (t Topic) String() string {
	s := ""
	for i, tok := range t {
		if i > 0 {
			s += "/"
		}
		s += tok
	}
	return s
}

// Match reports whether a concrete topic matches a pattern.
func Match(pattern, topic Topic) bool {
	for i, p := range pattern {
		if p == Multi {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if p != Single && p != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

type Subscription struct {
	pattern Topic
	ch      chan *Message
	conn    *Connection
}

func (s *Subscription) Topic() Topic             { return s.pattern }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

type Bus struct {
	mu       sync.Mutex
	subs     []*Subscription
	retained map[string]*Message
	qLen     int
}

// NewBus creates a bus with the given per-subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{retained: make(map[string]*Message), qLen: queueLen}
}

// NewMessage is a convenience constructor.
func (b *Bus) NewMessage(t Topic, payload any, retained bool) *Message {
	return &Message{Topic: t, Payload: payload, Retained: retained}
}

// Publish delivers msg to every matching subscriber. A retained message with
// a nil payload clears the retained value.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		key := msg.Topic.String()
		if msg.Payload == nil {
			delete(b.retained, key)
		} else {
			b.retained[key] = msg
		}
	}
	for _, s := range b.subs {
		if Match(s.pattern, msg.Topic) {
			deliver(s.ch, msg)
		}
	}
}

// Retained returns the retained message on an exact topic.
func (b *Bus) Retained(t Topic) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.retained[t.String()]
	return m, ok
}

func deliver(ch chan *Message, msg *Message) {
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (b *Bus) add(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
	for _, m := range b.retained {
		if Match(s.pattern, m.Topic) {
			deliver(s.ch, m)
		}
	}
}

func (b *Bus) remove(s *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, x := range b.subs {
		if x == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Connection groups the subscriptions of one component.
type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

// NewConnection creates a connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers a pattern. Matching retained messages are queued at
// once.
func (c *Connection) Subscribe(pattern Topic) *Subscription {
	s := &Subscription{pattern: pattern, ch: make(chan *Message, c.bus.qLen), conn: c}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	c.bus.add(s)
	return s
}

// Unsubscribe removes s and closes its channel.
func (c *Connection) Unsubscribe(s *Subscription) {
	if !c.bus.remove(s) {
		return
	}
	c.mu.Lock()
	for i, x := range c.subs {
		if x == s {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(s.ch)
}

// Disconnect closes every subscription of c.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		if c.bus.remove(s) {
			close(s.ch)
		}
	}
}
