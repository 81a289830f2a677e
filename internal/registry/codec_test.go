package registry

import (
	"encoding/json"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestDecodeGossipPayloadAnnounceFirst(t *testing.T) {
	data, _ := json.Marshal(AnnounceMsg{NodeID: "n1", Shards: []string{"s1"}, Version: "v1", VRAMFreeMB: 4})

	msg, kind := DecodeGossipPayload(data)
	if kind != KindAnnounce {
		t.Fatalf("kind = %v, want KindAnnounce", kind)
	}
	if _, ok := msg.(AnnounceMsg); !ok {
		t.Fatalf("msg type = %T, want AnnounceMsg", msg)
	}
}

func TestDecodeGossipPayloadCommunicatorFallback(t *testing.T) {
	data, _ := json.Marshal(CommunicatorMessage{Sender: "API_Interface", Payload: "hello", Timestamp: 123})

	msg, kind := DecodeGossipPayload(data)
	if kind != KindCommunicator {
		t.Fatalf("kind = %v, want KindCommunicator", kind)
	}
	if _, ok := msg.(CommunicatorMessage); !ok {
		t.Fatalf("msg type = %T, want CommunicatorMessage", msg)
	}
}

func TestDecodeGossipPayloadUnknown(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"foo": "bar"}`),
		[]byte(`not even json`),
		[]byte(`{}`),
		[]byte(`42`),
	}
	for _, data := range cases {
		_, kind := DecodeGossipPayload(data)
		if kind != KindUnknown {
			t.Errorf("DecodeGossipPayload(%s) kind = %v, want KindUnknown", data, kind)
		}
	}
}

// TestAnnounceMsgRoundTrip checks invariant 6: encode then decode
// yields a value equal on all fields, for arbitrary field contents.
func TestAnnounceMsgRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		msg := AnnounceMsg{
			NodeID:     rapid.StringN(1, 64, -1).Draw(rt, "node_id"),
			Shards:     rapid.SliceOfN(rapid.String(), 0, 8).Draw(rt, "shards"),
			Version:    rapid.String().Draw(rt, "version"),
			VRAMFreeMB: rapid.Uint32().Draw(rt, "vram_free_mb"),
		}

		data, err := json.Marshal(msg)
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}

		decoded, kind := DecodeGossipPayload(data)
		if kind != KindAnnounce {
			rt.Fatalf("kind = %v, want KindAnnounce", kind)
		}
		got := decoded.(AnnounceMsg)
		if got.NodeID != msg.NodeID || got.Version != msg.Version || got.VRAMFreeMB != msg.VRAMFreeMB {
			rt.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
		}
		if len(got.Shards) != len(msg.Shards) {
			rt.Fatalf("shards length mismatch: got %d, want %d", len(got.Shards), len(msg.Shards))
		}
		for i := range msg.Shards {
			if got.Shards[i] != msg.Shards[i] {
				rt.Fatalf("shards[%d] = %q, want %q", i, got.Shards[i], msg.Shards[i])
			}
		}
	})
}

// TestUpdateFromAnnounceAlwaysMatchesMessage checks invariant 2 for
// arbitrary announcements.
func TestUpdateFromAnnounceAlwaysMatchesMessage(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := New()
		msg := AnnounceMsg{
			NodeID:     rapid.StringN(1, 32, -1).Draw(rt, "node_id"),
			Shards:     rapid.SliceOfN(rapid.StringN(1, 8, -1), 0, 6).Draw(rt, "shards"),
			Version:    rapid.StringN(0, 8, -1).Draw(rt, "version"),
			VRAMFreeMB: rapid.Uint32().Draw(rt, "vram_free_mb"),
		}

		now := time.Now()
		r.UpdateFromAnnounce(msg, now)

		data, err := r.SnapshotJSON(now)
		if err != nil {
			rt.Fatalf("SnapshotJSON: %v", err)
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			rt.Fatalf("unmarshal: %v", err)
		}
		node, ok := snap.Nodes[msg.NodeID]
		if !ok {
			rt.Fatalf("expected node %q in snapshot", msg.NodeID)
		}
		if node.VRAMFreeMB != msg.VRAMFreeMB {
			rt.Fatalf("VRAMFreeMB = %d, want %d", node.VRAMFreeMB, msg.VRAMFreeMB)
		}
		if len(node.Shards) != len(msg.Shards) {
			rt.Fatalf("len(Shards) = %d, want %d", len(node.Shards), len(msg.Shards))
		}
	})
}
