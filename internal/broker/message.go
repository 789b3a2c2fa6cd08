// Package broker describes the partitioned log the processor reads from and
// writes to. The Redis Streams binding lives in internal/infra/redis.
package broker

import (
	"fmt"
	"hash/fnv"
)

// Header names carried on broker messages.
const (
	HeaderSourceID  = "x-sourceId"
	HeaderRef       = "x-ref"
	HeaderReason    = "x-reason"
	HeaderErrorKind = "x-error-kind"

	HeaderExceptionClass    = "x-exception-class"
	HeaderExceptionMessage  = "x-exception-message"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
)

// Message is one entry read from a partition of a topic.
type Message struct {
	Topic     string
	Partition int
	ID        string // offset within the partition
	Key       string
	Value     []byte
	Headers   map[string]string
	// Deliveries counts how many times the group has been handed this entry,
	// including the current one.
	Deliveries int64
}

// SourceID returns the correlation id, preferring the header over the key.
func (m *Message) SourceID() string {
	if id := m.Headers[HeaderSourceID]; id != "" {
		return id
	}
	return m.Key
}

func (m *Message) String() string {
	return fmt.Sprintf("%s[%d]@%s", m.Topic, m.Partition, m.ID)
}

// Record is an outbound message.
type Record struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// PartitionFor maps a key onto one of n partitions with FNV-1a.
func PartitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
