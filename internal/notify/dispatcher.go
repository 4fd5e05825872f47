package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Kind classifies an event for preference gating
type Kind string

const (
	KindListChange           Kind = "list_change"
	KindWishUpdate           Kind = "wish_update"
	KindCollaboratorActivity Kind = "collaborator_activity"
	KindAccount              Kind = "account"
)

// Event is one notification
type Event struct {
	Kind  Kind      `json:"kind"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
	At    time.Time `json:"at"`
}

// Sink delivers events to one channel
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

type sinkEntry struct {
	sink Sink
	push bool
}

// Dispatcher fans an event out to its sinks. The log sink always receives
// allowed events; push sinks only when the Push preference is on.
type Dispatcher struct {
	prefs  *Preferences
	logger *logrus.Logger

	mu    sync.RWMutex
	sinks []sinkEntry
}

// NewDispatcher creates a dispatcher with the log sink installed
func NewDispatcher(prefs *Preferences, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		prefs:  prefs,
		logger: logger,
		sinks:  []sinkEntry{{sink: &LogSink{logger: logger}}},
	}
}

// AddPushSink installs a sink gated by the Push preference
func (d *Dispatcher) AddPushSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sinkEntry{sink: s, push: true})
}

// Notify delivers ev to every enabled sink. Failures of individual sinks are
// collected; the remaining sinks still receive the event.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) error {
	prefs := d.prefs.Get()
	if !allows(prefs, ev.Kind) {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	d.mu.RLock()
	sinks := append([]sinkEntry(nil), d.sinks...)
	d.mu.RUnlock()

	var result *multierror.Error
	for _, e := range sinks {
		if e.push && !prefs.Push {
			continue
		}
		if err := e.sink.Send(ctx, ev); err != nil {
			d.logger.WithError(err).WithField("sink", e.sink.Name()).Warn("Failed to deliver notification")
			result = multierror.Append(result, fmt.Errorf("%s: %w", e.sink.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// LogSink writes events to the application log
type LogSink struct {
	logger *logrus.Logger
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, ev Event) error {
	s.logger.WithFields(logrus.Fields{
		"kind":  ev.Kind,
		"title": ev.Title,
	}).Info(ev.Body)
	return nil
}
