package dump

import (
	"context"
	"errors"
)

// MultiSink writes every record to all of its sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that writes to all provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write writes r to every sink. A failing sink does not stop the others;
// their errors are joined.
func (m *MultiSink) Write(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
