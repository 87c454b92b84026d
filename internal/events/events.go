// Package events is the orchestrator's typed event bus: a fixed
// schema of topic -> payload, synchronous emission, subscribe by
// topic with an unsubscribe token. Handlers that might block are the
// subscriber's responsibility to queue off-thread, never the bus's.
package events

import (
	"sort"
	"sync"
	"time"
)

// Topic is one of the fixed event topics.
type Topic string

const (
	TopicPipelineStart    Topic = "pipeline:start"
	TopicPipelineComplete Topic = "pipeline:complete"

	TopicTaskStart    Topic = "task:start"
	TopicTaskProgress Topic = "task:progress"
	TopicTaskComplete Topic = "task:complete"
	TopicTaskError    Topic = "task:error"

	TopicEngineStart     Topic = "engine:start"
	TopicEngineStreaming Topic = "engine:streaming"
	TopicEngineComplete  Topic = "engine:complete"
	TopicEngineError     Topic = "engine:error"

	TopicGitWorktreeCreate  Topic = "git:worktree:create"
	TopicGitWorktreeCleanup Topic = "git:worktree:cleanup"
	TopicGitBranchCreate    Topic = "git:branch:create"
	TopicGitMergeStart      Topic = "git:merge:start"
	TopicGitMergeComplete   Topic = "git:merge:complete"
	TopicGitMergeConflict   Topic = "git:merge:conflict"
	TopicGitRebaseStart     Topic = "git:rebase:start"
	TopicGitRebaseComplete  Topic = "git:rebase:complete"
	TopicGitRebaseConflict  Topic = "git:rebase:conflict"
)

// Event is a single published record. Payload is topic-specific; the
// orchestrator never depends on a subscriber reading or understanding
// it.
type Event struct {
	Topic   Topic
	Time    time.Time
	TaskID  string
	Payload map[string]any
}

// Handler receives published events for a subscribed topic.
type Handler func(Event)

// Token unsubscribes a previously registered Handler.
type Token struct {
	topic Topic
	id    uint64
}

// Bus is a synchronous, topic-keyed pub/sub. A zero Bus is not usable;
// construct with New.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[Topic]map[uint64]Handler
}

// New returns an empty, ready-to-use Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Topic]map[uint64]Handler)}
}

// Subscribe registers handler for topic and returns a Token that
// Unsubscribe accepts.
func (b *Bus) Subscribe(topic Topic, handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[uint64]Handler)
	}
	b.handlers[topic][id] = handler
	return Token{topic: topic, id: id}
}

// Unsubscribe removes the handler identified by tok, if still present.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.handlers[tok.topic]; ok {
		delete(m, tok.id)
	}
}

// Publish emits an event to every handler currently subscribed to
// topic, synchronously, in registration order. A handler that panics
// is recovered and does not stop other handlers or fail the publish
// (lifecycle hooks and event handlers must never fail the run).
func (b *Bus) Publish(topic Topic, taskID string, payload map[string]any) {
	b.mu.Lock()
	subs := b.handlers[topic]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, subs[id])
	}
	b.mu.Unlock()

	ev := Event{Topic: topic, Time: time.Now(), TaskID: taskID, Payload: payload}
	for _, h := range handlers {
		invokeSafely(h, ev)
	}
}

func invokeSafely(h Handler, ev Event) {
	defer func() { _ = recover() }()
	h(ev)
}
