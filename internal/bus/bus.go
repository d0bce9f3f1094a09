// Package bus provides the in-process publish/subscribe fabric: the
// broadcast event feed, the narrower match feed, action status notices, and
// the intent topic for downstream agents.
package bus

import (
	"sync"
	"time"
)

// Topic names a feed on the bus.
type Topic string

const (
	// TopicEvents carries every event regardless of tenant or match status.
	TopicEvents Topic = "events"
	// TopicMatches carries rule-match outcomes with the matched rule list.
	TopicMatches Topic = "matches"
	// TopicStatus carries started|completed|ignored|error action notices.
	TopicStatus Topic = "status"
	// TopicIntents carries published intent messages.
	TopicIntents Topic = "intents"
)

// Envelope wraps a published value with its topic and publish time.
type Envelope struct {
	Topic Topic     `json:"topic"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data"`
}

type subscriber struct {
	ch chan Envelope
}

// Bus fans published values out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the message. Slow dashboards must
// not stall the ingestion path.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic]map[int]*subscriber
	next int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic]map[int]*subscriber)}
}

// Subscribe registers a buffered subscription to a topic. The returned
// cancel function unregisters and closes the channel; it is safe to call
// more than once.
func (b *Bus) Subscribe(topic Topic, buffer int) (<-chan Envelope, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]*subscriber)
	}
	sub := &subscriber{ch: make(chan Envelope, buffer)}
	b.subs[topic][id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers data to every current subscriber of the topic,
// dropping on full buffers.
func (b *Bus) Publish(topic Topic, data any) {
	env := Envelope{Topic: topic, Time: time.Now().UTC(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- env:
		default:
		}
	}
}
