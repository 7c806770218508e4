package eventhub

import (
	"fmt"
	"time"
)

const (
	offsetAnnotation         = "amqp.annotation.x-opt-offset"
	sequenceNumberAnnotation = "amqp.annotation.x-opt-sequence-number"
	enqueuedTimeAnnotation   = "amqp.annotation.x-opt-enqueued-time"

	offsetLatest   = "@latest"
	offsetEarliest = "-1"
)

// EventPosition identifies where in a partition's event stream a consumer
// link begins reading. Construct one with Latest, Earliest, FromOffset,
// FromSequenceNumber, or FromEnqueuedTime.
type EventPosition struct {
	offset         string
	sequenceNumber *int64
	enqueuedTime   *time.Time
	inclusive      bool
}

// Latest positions the link after the newest event in the partition, so only
// events enqueued after the link attaches are delivered.
func Latest() *EventPosition {
	return &EventPosition{offset: offsetLatest}
}

// Earliest positions the link at the first retained event in the partition.
func Earliest() *EventPosition {
	return &EventPosition{offset: offsetEarliest}
}

// FromOffset positions the link at the event with the given offset. When
// inclusive is set, the event at the offset itself is delivered.
func FromOffset(offset string, inclusive bool) *EventPosition {
	return &EventPosition{offset: offset, inclusive: inclusive}
}

// FromSequenceNumber positions the link at the event with the given sequence
// number. When inclusive is set, that event itself is delivered.
func FromSequenceNumber(sequenceNumber int64, inclusive bool) *EventPosition {
	return &EventPosition{sequenceNumber: &sequenceNumber, inclusive: inclusive}
}

// FromEnqueuedTime positions the link at the first event enqueued after the
// given instant.
func FromEnqueuedTime(enqueuedTime time.Time) *EventPosition {
	return &EventPosition{enqueuedTime: &enqueuedTime}
}

// filterExpression compiles the position into the broker's selector filter
// expression.
func (position *EventPosition) filterExpression() (string, error) {
	operator := ">"
	if position.inclusive {
		operator = ">="
	}

	switch {
	case position.offset != "":
		return fmt.Sprintf("%s %s '%s'", offsetAnnotation, operator, position.offset), nil
	case position.sequenceNumber != nil:
		return fmt.Sprintf("%s %s '%d'", sequenceNumberAnnotation, operator, *position.sequenceNumber), nil
	case position.enqueuedTime != nil:
		return fmt.Sprintf("%s > '%d'", enqueuedTimeAnnotation, position.enqueuedTime.UnixMilli()), nil
	}

	return "", NewError(ArgumentError, "event position does not identify an offset, sequence number, or enqueued time")
}
