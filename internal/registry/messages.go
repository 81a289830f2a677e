package registry

// AnnounceMsg is the wire form broadcast on the cortex/announce gossip
// topic. It is self-describing: the receiver never needs side
// information to interpret it.
type AnnounceMsg struct {
	NodeID      string   `json:"node_id"`
	Shards      []string `json:"shards"`
	Version     string   `json:"version"`
	VRAMFreeMB  uint32   `json:"vram_free_mb"`
}

// CommunicatorMessage is the wire form broadcast on the
// cortex/communicator gossip topic. Free-form user payload; never
// reflected into the registry.
type CommunicatorMessage struct {
	Sender    string `json:"sender"`
	Payload   string `json:"payload"`
	Timestamp uint64 `json:"timestamp"`
}

// ShardInfo is a value type describing one shard a node advertises.
type ShardInfo struct {
	ShardID   string `json:"shard_id"`
	Version   string `json:"version"`
	Available bool   `json:"available"`
}
