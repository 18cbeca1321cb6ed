package store

import (
	"hash/fnv"
	"sync"
)

// shardCount is the number of independently-locked buckets the
// keyspace is split across. A single global mutex (shardCount == 1)
// would still be correct but serializes unrelated keys under load.
const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newShards() []*shard {
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return shards
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
