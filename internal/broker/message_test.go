package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionFor_Stable(t *testing.T) {
	for _, key := range []string{"a", "src-1", "0f8fad5b-d9cb-469f-a165-70867728950e"} {
		p := PartitionFor(key, 3)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 3)
		assert.Equal(t, p, PartitionFor(key, 3))
	}
	assert.Equal(t, 0, PartitionFor("anything", 1))
	assert.Equal(t, 0, PartitionFor("anything", 0))
}

func TestMessage_SourceID(t *testing.T) {
	m := &Message{Key: "k", Headers: map[string]string{}}
	assert.Equal(t, "k", m.SourceID())

	m.Headers[HeaderSourceID] = "h"
	assert.Equal(t, "h", m.SourceID())
}
