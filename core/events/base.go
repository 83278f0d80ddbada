package events

import "time"

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

type RebaseOption func(*Base)

// WithTimestamp overrides the time the event is reported to have happened
// at, used when the source carries its own clock.
func WithTimestamp(timestamp time.Time) RebaseOption {
	return func(b *Base) {
		if !timestamp.IsZero() {
			b.timestamp = timestamp
		}
	}
}
