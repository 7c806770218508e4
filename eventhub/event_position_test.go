package eventhub

import (
	"fmt"
	"testing"
	"time"
)

func TestEventPositionFilterExpressions(t *testing.T) {
	enqueued := time.Date(2024, time.March, 5, 12, 30, 0, 0, time.UTC)

	cases := []struct {
		name     string
		position *EventPosition
		expected string
	}{
		{name: "latest", position: Latest(), expected: "amqp.annotation.x-opt-offset > '@latest'"},
		{name: "earliest", position: Earliest(), expected: "amqp.annotation.x-opt-offset > '-1'"},
		{name: "offset exclusive", position: FromOffset("12345", false), expected: "amqp.annotation.x-opt-offset > '12345'"},
		{name: "offset inclusive", position: FromOffset("12345", true), expected: "amqp.annotation.x-opt-offset >= '12345'"},
		{name: "sequence exclusive", position: FromSequenceNumber(42, false), expected: "amqp.annotation.x-opt-sequence-number > '42'"},
		{name: "sequence inclusive", position: FromSequenceNumber(42, true), expected: "amqp.annotation.x-opt-sequence-number >= '42'"},
		{name: "enqueued time", position: FromEnqueuedTime(enqueued), expected: fmt.Sprintf("amqp.annotation.x-opt-enqueued-time > '%d'", enqueued.UnixMilli())},
	}

	for _, testCase := range cases {
		expression, err := testCase.position.filterExpression()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", testCase.name, err)
		}
		if expression != testCase.expected {
			t.Fatalf("%s: expected %q, got %q", testCase.name, testCase.expected, expression)
		}
	}
}

func TestEventPositionRejectsEmptyPosition(t *testing.T) {
	empty := &EventPosition{}
	if _, err := empty.filterExpression(); !HasErrorCode(err, ArgumentError) {
		t.Fatalf("expected ArgumentError for an empty position, got %v", err)
	}
}
