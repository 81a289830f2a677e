// Package registry holds the in-memory, time-decaying view a node
// keeps of the rest of the mesh: one entry per node ID, updated from
// gossip announcements and rendered as a JSON snapshot for the
// control surface.
package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cortexmesh/cortex-id/internal/identity"
)

// NodeEntry is the last-known state for one peer. LastSeen always
// comes from the local monotonic clock — never from a value decoded
// off the wire — so registry liveness can't be fooled by a peer's
// clock skew.
type NodeEntry struct {
	LastSeen   time.Time
	Shards     []ShardInfo
	VRAMFreeMB uint32
}

// Registry is a mapping from NodeId to NodeEntry. The zero value is
// not usable; construct with New. Safe for concurrent use: every
// exported method takes the lock for the duration of the call and
// never holds it across anything that can block.
type Registry struct {
	mu    sync.Mutex
	nodes map[identity.NodeId]NodeEntry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{nodes: make(map[identity.NodeId]NodeEntry)}
}

// UpdateFromAnnounce upserts the entry for msg.NodeID, overwriting any
// prior state unconditionally — announcements carry no version vector
// and are authoritative for their own sender. Every shard listed
// becomes available and is stamped with msg.Version. now should be a
// recent time.Now() reading; callers never pass a value decoded off
// the wire.
func (r *Registry) UpdateFromAnnounce(msg AnnounceMsg, now time.Time) {
	shards := make([]ShardInfo, len(msg.Shards))
	for i, id := range msg.Shards {
		shards[i] = ShardInfo{ShardID: id, Version: msg.Version, Available: true}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[identity.NodeId(msg.NodeID)] = NodeEntry{
		LastSeen:   now,
		Shards:     shards,
		VRAMFreeMB: msg.VRAMFreeMB,
	}
}

// PurgeStale removes every entry whose age (now - LastSeen) is at
// least ttl. Idempotent: a second call with the same now and ttl
// removes nothing further. Returns the number of entries removed.
func (r *Registry) PurgeStale(ttl time.Duration, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entry := range r.nodes {
		if now.Sub(entry.LastSeen) >= ttl {
			delete(r.nodes, id)
			removed++
		}
	}
	return removed
}

// Len reports the current number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// snapshotNode is the per-node shape within Snapshot.
type snapshotNode struct {
	Shards          []string `json:"shards"`
	VRAMFreeMB      uint32   `json:"vram_free_mb"`
	LastSeenSecsAgo uint64   `json:"last_seen_secs_ago"`
}

// Snapshot is a point-in-time JSON render of the registry.
type Snapshot struct {
	Timestamp int64                   `json:"timestamp"`
	Nodes     map[string]snapshotNode `json:"nodes"`
}

// SnapshotJSON renders the registry as of now. It never mutates
// state; last_seen_secs_ago is computed against the monotonic now
// passed in, and timestamp is the wall-clock seconds since the Unix
// epoch. Falls back to "{}" only if the serializer itself fails,
// which should not happen for this schema.
func (r *Registry) SnapshotJSON(now time.Time) ([]byte, error) {
	r.mu.Lock()
	nodes := make(map[string]snapshotNode, len(r.nodes))
	for id, entry := range r.nodes {
		shardIDs := make([]string, len(entry.Shards))
		for i, s := range entry.Shards {
			shardIDs[i] = s.ShardID
		}
		age := now.Sub(entry.LastSeen)
		if age < 0 {
			age = 0
		}
		nodes[string(id)] = snapshotNode{
			Shards:          shardIDs,
			VRAMFreeMB:      entry.VRAMFreeMB,
			LastSeenSecsAgo: uint64(age.Seconds()),
		}
	}
	r.mu.Unlock()

	data, err := json.Marshal(Snapshot{Timestamp: now.Unix(), Nodes: nodes})
	if err != nil {
		return []byte("{}"), err
	}
	return data, nil
}
