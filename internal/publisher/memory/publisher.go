// Package memory records published events in memory for tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Event is one recorded publish. Data holds the JSON body the Pub/Sub backend would
// have sent.
type Event struct {
	ID      string
	Topic   string
	Payload any
	Data    []byte
}

// Publisher keeps every event in publish order.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
	seq    map[string]int
	err    error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{seq: make(map[string]int)}
}

// FailWith makes every later Publish return err. Passing nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish encodes payload and records it. IDs are "<topic>/<n>", counted per topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.seq[topic]++
	id := fmt.Sprintf("%s/%d", topic, p.seq[topic])
	p.events = append(p.events, Event{ID: id, Topic: topic, Payload: payload, Data: data})
	return id, nil
}

// Messages returns a copy of every recorded event.
func (p *Publisher) Messages() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// OnTopic returns the recorded events for one topic.
func (p *Publisher) OnTopic(topic string) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Event
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}
