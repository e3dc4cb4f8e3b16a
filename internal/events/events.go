// Package events provides the observer surface of the sync engine: typed
// events published by a run and fanned out to subscribers without ever
// blocking the publisher.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType int

const (
	RunStarted EventType = 1 << iota
	StateChanged
	FileStarted
	Progress
	RateSampled
	VerifyProgress
	RunCompleted
	RunStopped
	RunFailed
	ServiceStatus

	AllEvents = (1 << iota) - 1
)

func (t EventType) String() string {
	switch t {
	case RunStarted:
		return "RunStarted"
	case StateChanged:
		return "StateChanged"
	case FileStarted:
		return "FileStarted"
	case Progress:
		return "Progress"
	case RateSampled:
		return "RateSampled"
	case VerifyProgress:
		return "VerifyProgress"
	case RunCompleted:
		return "RunCompleted"
	case RunStopped:
		return "RunStopped"
	case RunFailed:
		return "RunFailed"
	case ServiceStatus:
		return "ServiceStatus"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether the event ends a run.
func (t EventType) IsTerminal() bool {
	return t&(RunCompleted|RunStopped|RunFailed) != 0
}

// Event is an immutable notification. Data holds one of the *Data types
// below, matching Type.
type Event struct {
	SubscriptionID int
	RunID          uuid.UUID
	Time           time.Time
	Type           EventType
	Data           any
}

type RunStartedData struct {
	Kind   string
	Subset []string
}

type StateChangedData struct {
	From string
	To   string
}

type FileStartedData struct {
	File  string
	Index int
	Count int
}

type ProgressData struct {
	File        string
	Transferred int64
	Total       int64
	Fraction    float64
}

type RateData struct {
	BytesPerSecond int64
	Formatted      string
	Transferred    int64
	Total          int64
}

type VerifyProgressData struct {
	File     string
	Checked  int
	Total    int
	Fraction float64
}

// Status values carried by FinishedData.
const (
	StatusSuccess           = "success"
	StatusUpToDate          = "up_to_date"
	StatusSuccessWithErrors = "success_with_errors"
	StatusStopped           = "stopped"
	StatusError             = "error"
)

type FinishedData struct {
	Kind        string
	Status      string
	Message     string
	Corrupted   []string
	Transferred int64
	Total       int64
}

type ServiceStatusData struct {
	Online  bool
	Summary string
	Up      []string
	Down    []string
}

// Logger is what a run publishes to.
type Logger interface {
	Log(t EventType, data any)
}

const DefaultBufferSize = 64

// Bus fans events out to subscribers. Publishing never blocks: when a
// subscriber's buffer is full its oldest pending event is dropped to make
// room, so the newest state (including terminal events) always arrives.
type Bus struct {
	mut     sync.Mutex
	subs    []*Subscription
	nextSub int
	now     func() time.Time
}

func NewBus() *Bus {
	return &Bus{now: time.Now}
}

type Subscription struct {
	id     int
	mask   EventType
	events chan Event
	bus    *Bus
}

// Subscribe returns a subscription receiving events matching mask. A
// bufSize below 1 selects DefaultBufferSize.
func (b *Bus) Subscribe(mask EventType, bufSize int) *Subscription {
	if bufSize < 1 {
		bufSize = DefaultBufferSize
	}

	b.mut.Lock()
	defer b.mut.Unlock()

	b.nextSub++
	s := &Subscription{
		id:     b.nextSub,
		mask:   mask,
		events: make(chan Event, bufSize),
		bus:    b,
	}
	b.subs = append(b.subs, s)

	return s
}

// C returns the event channel. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan Event {
	return s.events
}

func (s *Subscription) Unsubscribe() {
	b := s.bus
	b.mut.Lock()
	defer b.mut.Unlock()

	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.events)
			return
		}
	}
}

// Log publishes an event without a run ID.
func (b *Bus) Log(t EventType, data any) {
	b.publish(uuid.Nil, t, data)
}

// WithRun returns a Logger stamping every event with runID.
func (b *Bus) WithRun(runID uuid.UUID) Logger {
	return runLogger{bus: b, runID: runID}
}

func (b *Bus) publish(runID uuid.UUID, t EventType, data any) {
	b.mut.Lock()
	defer b.mut.Unlock()

	ev := Event{
		RunID: runID,
		Time:  b.now(),
		Type:  t,
		Data:  data,
	}
	for _, s := range b.subs {
		if s.mask&t == 0 {
			continue
		}
		ev.SubscriptionID = s.id
		s.deliver(ev)
	}
}

// deliver is called with the bus lock held, so there is a single sender
// per subscription at any time.
func (s *Subscription) deliver(ev Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case <-s.events:
		default:
		}
	}
}

type runLogger struct {
	bus   *Bus
	runID uuid.UUID
}

func (l runLogger) Log(t EventType, data any) {
	l.bus.publish(l.runID, t, data)
}

// Discard is a Logger that drops everything.
var Discard Logger = discard{}

type discard struct{}

func (discard) Log(EventType, any) {}
