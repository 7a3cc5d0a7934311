package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/proxy-harvester/internal/progress"
)

// Publisher delivers one payload to a message bus.
type Publisher interface {
	Publish(ctx context.Context, attrs map[string]string, payload any) (string, error)
}

// PubSubSink publishes every validated proxy as it arrives.
type PubSubSink struct {
	publisher Publisher
}

// NewPubSubSink wires a publisher into the sink interface.
func NewPubSubSink(publisher Publisher) (*PubSubSink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &PubSubSink{publisher: publisher}, nil
}

// Consume publishes the validated record of every successful probe event.
// Failures are joined so one bad publish does not hide the rest.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if !evt.Valid() {
			continue
		}
		attrs := map[string]string{
			"run_id":   evt.RunID.String(),
			"category": string(evt.Record.Category),
			"type":     string(evt.Record.Type),
		}
		if _, err := s.publisher.Publish(ctx, attrs, evt.Record); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Candidate, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PubSubSink) Close(context.Context) error {
	return nil
}
