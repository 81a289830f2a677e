package noderuntime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cortexmesh/cortex-id/internal/meshnet"
	"github.com/cortexmesh/cortex-id/internal/registry"
)

// errSwarmEnded is returned from Run when the swarm's event stream
// ends on its own (not via context cancellation) — the one failure
// mode the spec treats as fatal rather than logged-and-continue.
var errSwarmEnded = errors.New("noderuntime: swarm event stream ended")

// handleEvent dispatches one merged swarm event. Only one branch of
// Run's select executes at a time, so this never races the command or
// injection handlers and the swarm state never needs a mutex.
func (r *Runtime) handleEvent(ctx context.Context, ev meshnet.Event) {
	switch ev.Kind {
	case meshnet.EventGossipMessage:
		r.handleGossipMessage(ev)

	case meshnet.EventLANPeersDiscovered:
		// Already added to the DHT routing table by the LAN discovery
		// layer; nothing further to do here but log for observability.
		r.log.Debug("lan peers discovered", "count", len(ev.Peers))
		if r.metrics != nil {
			r.metrics.MDNSDiscoveredTotal.WithLabelValues("discovered").Add(float64(len(ev.Peers)))
		}

	case meshnet.EventLANPeersExpired:
		// The gossip-level TTL governs registry membership, not LAN
		// presence — an expired LAN entry is not removed from the
		// registry.
		r.log.Debug("lan peers expired", "count", len(ev.Peers))
		if r.metrics != nil {
			r.metrics.MDNSDiscoveredTotal.WithLabelValues("expired").Add(float64(len(ev.Peers)))
		}

	case meshnet.EventDHTRoutingUpdated:
		r.log.Debug("dht routing table updated", "peer", ev.Peer)
		r.advance(StateJoined)
		if r.metrics != nil {
			r.metrics.DHTRoutingTableSize.Set(float64(r.behaviour.DHT.RoutingTable().Size()))
		}

	case meshnet.EventNewListenAddr:
		r.log.Info("new listen address", "addr", ev.Addr)
		r.advance(StateListening)
		r.closeListeningOnce()

	default:
		// All other events are ignored per the event-handling contract.
	}
}

func (r *Runtime) closeListeningOnce() {
	select {
	case <-r.listening:
	default:
		close(r.listening)
	}
}

// handleGossipMessage decodes an inbound gossip payload and, for a
// non-self AnnounceMsg, upserts the registry. Self-announcements are
// dropped without a log line; a payload that decodes as neither
// message kind is dropped with one debug log line. Neither mutates the
// registry, and CommunicatorMessage traffic is not reflected in the
// registry at all.
func (r *Runtime) handleGossipMessage(ev meshnet.Event) {
	msg, kind := registry.DecodeGossipPayload(ev.Data)
	switch kind {
	case registry.KindAnnounce:
		announce := msg.(registry.AnnounceMsg)
		if announce.NodeID == string(r.id.NodeID) {
			if r.metrics != nil {
				r.metrics.GossipReceivedTotal.WithLabelValues(ev.Topic, "self").Inc()
			}
			return // self-announcement: drop to avoid a feedback loop
		}
		r.registry.UpdateFromAnnounce(announce, time.Now())
		r.advance(StateJoined)
		if r.metrics != nil {
			r.metrics.GossipReceivedTotal.WithLabelValues(ev.Topic, "announce").Inc()
			r.metrics.RegistrySize.Set(float64(r.registry.Len()))
		}

	case registry.KindCommunicator:
		// Free-form payload; nothing to update.
		if r.metrics != nil {
			r.metrics.GossipReceivedTotal.WithLabelValues(ev.Topic, "communicator").Inc()
		}

	default:
		r.log.Debug("dropped undecodable gossip payload", "topic", ev.Topic, "from", ev.From)
		if r.metrics != nil {
			r.metrics.GossipReceivedTotal.WithLabelValues(ev.Topic, "unknown").Inc()
		}
	}
}

// handleCommand executes one scheduled command against the swarm.
// Gossip publish and DHT errors are logged and retried on the next
// tick, never fatal.
func (r *Runtime) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdGetProviders:
		peers, err := r.behaviour.GetProviders(ctx)
		if err != nil {
			r.log.Warn("get-providers failed", "error", err)
			if r.metrics != nil {
				r.metrics.DHTProvidersTotal.WithLabelValues("get-providers", "error").Inc()
			}
			return
		}
		if r.metrics != nil {
			r.metrics.DHTProvidersTotal.WithLabelValues("get-providers", "ok").Inc()
		}
		for _, p := range peers {
			r.behaviour.Host.Peerstore().AddAddrs(p.ID, p.Addrs, time.Hour)
			if _, err := r.behaviour.DHT.RoutingTable().TryAddPeer(p.ID, true, false); err != nil {
				r.log.Debug("adding provider to dht routing table failed", "peer", p.ID, "error", err)
			}
		}

	case CmdAnnounceNode:
		r.announceNode(ctx)
	}
}

func (r *Runtime) announceNode(ctx context.Context) {
	if r.announceLimiter != nil && !r.announceLimiter.Allow() {
		r.log.Debug("announce rate-limited, skipping this tick")
		return
	}

	shards := []string{"light"}
	if r.role == RoleBootstrap {
		shards = []string{"bootstrap"}
	}
	var vram uint32
	if r.role == RoleBootstrap {
		vram = 0
	}

	msg := registry.AnnounceMsg{
		NodeID:     string(r.id.NodeID),
		Shards:     shards,
		Version:    r.version,
		VRAMFreeMB: vram,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Warn("encoding announce message failed", "error", err)
		return
	}

	if err := r.behaviour.AnnounceTopic.Publish(ctx, data); err != nil {
		r.log.Warn("gossip publish failed, will retry next tick", "error", err)
		if r.metrics != nil {
			r.metrics.GossipPublishTotal.WithLabelValues(meshnet.AnnounceTopicName, "error").Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.GossipPublishTotal.WithLabelValues(meshnet.AnnounceTopicName, "ok").Inc()
	}
	r.advance(StateRunning)
}

func (r *Runtime) publishCommunicator(ctx context.Context, payload []byte) error {
	err := r.behaviour.CommTopic.Publish(ctx, payload)
	if r.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		r.metrics.GossipPublishTotal.WithLabelValues(meshnet.CommunicatorTopicName, result).Inc()
	}
	return err
}

func (r *Runtime) dialConfiguredBootstrap(ctx context.Context) {
	if r.bootstrap == "" {
		return
	}
	addr, err := meshnet.ParseBootstrapAddr(r.bootstrap)
	if err != nil {
		r.log.Warn("invalid CORTEX_BOOTSTRAP_PEER, ignoring", "error", err)
		return
	}
	if err := r.behaviour.AddBootstrapPeer(ctx, addr); err != nil {
		r.log.Warn("dialing configured bootstrap peer failed, continuing via LAN/DHT", "error", err)
	}
}
