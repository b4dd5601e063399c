package agent

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ent0n29/interview-agent/internal/llm"
	"github.com/ent0n29/interview-agent/internal/usage"
)

type EventType string

const (
	EventMetricsCollected      EventType = "metrics_collected"
	EventConversationItemAdded EventType = "conversation_item_added"
	EventUserStateChanged      EventType = "user_state_changed"
	EventAgentStateChanged     EventType = "agent_state_changed"
	EventClose                 EventType = "close"
)

type Event interface {
	EventType() EventType
}

type MetricsCollectedEvent struct {
	Metrics usage.Metrics
}

func (MetricsCollectedEvent) EventType() EventType { return EventMetricsCollected }

// ChatItem is one committed message of the conversation.
type ChatItem struct {
	ID          string    `json:"id"`
	Role        llm.Role  `json:"role"`
	Text        string    `json:"text"`
	Interrupted bool      `json:"interrupted,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ConversationItemAddedEvent struct {
	Item ChatItem
}

func (ConversationItemAddedEvent) EventType() EventType { return EventConversationItemAdded }

type UserState string

const (
	UserStateListening UserState = "listening"
	UserStateSpeaking  UserState = "speaking"
)

type AgentState string

const (
	AgentStateInitializing AgentState = "initializing"
	AgentStateListening    AgentState = "listening"
	AgentStateThinking     AgentState = "thinking"
	AgentStateSpeaking     AgentState = "speaking"
)

type UserStateChangedEvent struct {
	Old, New UserState
}

func (UserStateChangedEvent) EventType() EventType { return EventUserStateChanged }

type AgentStateChangedEvent struct {
	Old, New AgentState
}

func (AgentStateChangedEvent) EventType() EventType { return EventAgentStateChanged }

// CloseEvent is the last event a session emits.
type CloseEvent struct {
	Reason string
	Err    error
}

func (CloseEvent) EventType() EventType { return EventClose }

type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// dispatcher delivers events to handlers in emission order on a single
// goroutine. Handlers must not block.
type dispatcher struct {
	hmu      sync.Mutex
	handlers map[EventType][]subscription
	nextID   uint64

	qmu    sync.RWMutex
	queue  chan Event
	closed bool
	done   chan struct{}

	logger  *slog.Logger
	onPanic func(error)
}

func newDispatcher(logger *slog.Logger, onPanic func(error)) *dispatcher {
	d := &dispatcher{
		handlers: make(map[EventType][]subscription),
		queue:    make(chan Event, 1024),
		done:     make(chan struct{}),
		logger:   logger,
		onPanic:  onPanic,
	}
	go d.run()
	return d
}

func (d *dispatcher) on(t EventType, fn Handler) func() {
	d.hmu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[t] = append(d.handlers[t], subscription{id: id, fn: fn})
	d.hmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.hmu.Lock()
			defer d.hmu.Unlock()
			subs := d.handlers[t]
			for i, s := range subs {
				if s.id == id {
					d.handlers[t] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// emit queues ev; it reports false once the dispatcher is closed.
func (d *dispatcher) emit(ev Event) bool {
	d.qmu.RLock()
	defer d.qmu.RUnlock()
	if d.closed {
		return false
	}
	d.queue <- ev
	return true
}

// close delivers everything already queued, then stops.
func (d *dispatcher) close() {
	d.qmu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.qmu.Unlock()
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		d.hmu.Lock()
		subs := append([]subscription(nil), d.handlers[ev.EventType()]...)
		d.hmu.Unlock()
		for _, s := range subs {
			d.deliver(ev, s.fn)
		}
	}
}

func (d *dispatcher) deliver(ev Event, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s handler panic: %v", ev.EventType(), r)
			d.logger.Error("event handler panicked",
				slog.String("event", string(ev.EventType())),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			if d.onPanic != nil {
				d.onPanic(err)
			}
		}
	}()
	fn(ev)
}
