package registry

import "encoding/json"

// MessageKind tags the result of DecodeGossipPayload.
type MessageKind int

const (
	// KindUnknown means the payload decoded as neither known message
	// type, or was missing a required field.
	KindUnknown MessageKind = iota
	KindAnnounce
	KindCommunicator
)

// DecodeGossipPayload attempts to interpret a gossip payload as an
// AnnounceMsg first, then as a CommunicatorMessage, matching the order
// both message kinds are tried on the wire. Unknown JSON fields are
// ignored by encoding/json already; a message missing a required
// field decodes but is reported as KindUnknown so the caller can drop
// it with a single log line, never a panic or a registry mutation.
func DecodeGossipPayload(data []byte) (msg any, kind MessageKind) {
	var announce AnnounceMsg
	if err := json.Unmarshal(data, &announce); err == nil && announce.NodeID != "" {
		return announce, KindAnnounce
	}

	var comm CommunicatorMessage
	if err := json.Unmarshal(data, &comm); err == nil && comm.Sender != "" {
		return comm, KindCommunicator
	}

	return nil, KindUnknown
}
