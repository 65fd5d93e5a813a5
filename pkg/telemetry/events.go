package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one timeline entry emitted by the deployment pipeline.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated pipeline run, if any.
	RunID string `json:"run_id,omitempty"`

	// Stage is the pipeline stage the event belongs to, if any.
	Stage string `json:"stage,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific fields.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event type constants.
const (
	EventTypeRunStarted     = "run.started"
	EventTypeRunCompleted   = "run.completed"
	EventTypeRunFailed      = "run.failed"
	EventTypeStageStarted   = "stage.started"
	EventTypeStageCompleted = "stage.completed"
	EventTypeStageFailed    = "stage.failed"
	EventTypeGuardBlocked   = "guard.blocked"
	EventTypeVerifyWarning  = "verify.warning"
)

// Event level constants.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles delivered events.
type EventSubscriber func(event Event)

// EventPublisher fans pipeline events out to subscribers. With async
// delivery enabled, events are buffered on a channel and delivered from a
// single goroutine; otherwise delivery happens inline on Publish.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []EventSubscriber
	wg          sync.WaitGroup
	mu          sync.RWMutex
	cancel      context.CancelFunc
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents(ctx)
	}

	return ep, nil
}

// Subscribe registers a subscriber for all future events.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriber)
}

// Publish emits an event. Missing ID and timestamp fields are filled in.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if !ep.config.EnableAsync {
		ep.deliver(event)
		return nil
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropping event %s", event.Type)
	}
}

// PublishStage emits a stage-scoped event.
func (ep *EventPublisher) PublishStage(eventType, runID, stage, message, level string) error {
	return ep.Publish(Event{
		Type:    eventType,
		RunID:   runID,
		Stage:   stage,
		Message: message,
		Level:   level,
	})
}

func (ep *EventPublisher) processEvents(ctx context.Context) {
	defer ep.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// Drain what is already buffered
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		case event := <-ep.buffer:
			ep.deliver(event)
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := make([]EventSubscriber, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
}

// Shutdown stops async delivery after draining buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled || ep.cancel == nil {
		return nil
	}
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
