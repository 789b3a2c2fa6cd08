package broker

import "context"

// Source reads the inbound topic one partition at a time.
type Source interface {
	Topic() string
	Partitions() int
	// Fetch returns the next entry of partition, or nil when none arrived in
	// time. With pending set it returns entries already delivered to this
	// consumer and not yet acknowledged.
	Fetch(ctx context.Context, partition int, pending bool) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
}

// Sink writes outbound records.
type Sink interface {
	// Commit publishes rec to topic and acknowledges in as one unit. It
	// reports false when dedupeKey was committed before, in which case only
	// the acknowledgement happens.
	Commit(ctx context.Context, topic string, rec Record, in *Message, dedupeKey string) (bool, error)
	// Forward publishes rec to topic and acknowledges in together.
	Forward(ctx context.Context, topic string, rec Record, in *Message) error
	// Send publishes rec to topic.
	Send(ctx context.Context, topic string, rec Record) (string, error)
}
