// Package meshnet bundles the three sub-behaviours that make up a
// mesh node's swarm: gossip pub/sub, LAN multicast discovery, and a
// Kademlia-style DHT, all riding a single QUIC transport keyed off the
// node's identity.
package meshnet

import (
	"context"
	"fmt"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
)

// RendezvousKey is the well-known DHT content key every node uses to
// find the rest of the mesh without prior configuration.
const RendezvousKey = "cortex-mesh:v1"

// AnnounceTopicName is the gossip topic carrying AnnounceMsg JSON.
const AnnounceTopicName = "cortex/announce"

// CommunicatorTopicName is the gossip topic carrying
// CommunicatorMessage JSON, distinct from the announcement topic.
const CommunicatorTopicName = "cortex/communicator"

// Config configures a Behaviour.
type Config struct {
	// PrivateKey seeds both the libp2p host identity and the QUIC
	// transport; it must be derived from the same key material as the
	// node's persisted identity so the swarm's peer ID matches the
	// node's NodeId.
	PrivateKey crypto.PrivKey

	// DHTMode selects server (provide-capable) or client behaviour.
	// Bootstrap nodes run as dht.ModeServer; light nodes as
	// dht.ModeClient.
	DHTMode dht.ModeOpt

	// FloodPublish is enabled on bootstrap nodes to improve reach
	// while the mesh is small; light nodes leave it at the gossipsub
	// default.
	FloodPublish bool
}

// Behaviour is the composite network behaviour for one node: a libp2p
// host, gossipsub pub/sub joined to both mesh topics, a Kademlia DHT,
// and LAN discovery feeding the DHT's routing table.
type Behaviour struct {
	Host host.Host

	PubSub        *pubsub.PubSub
	AnnounceTopic *pubsub.Topic
	CommTopic     *pubsub.Topic
	announceSub   *pubsub.Subscription
	commSub       *pubsub.Subscription

	DHT  *dht.IpfsDHT
	mdns *mdnsDiscovery

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBehaviour constructs the host, joins both gossip topics, starts
// the DHT, and starts LAN discovery. The returned Behaviour's event
// channel is not yet being fed by the subscription/eventbus readers;
// call Start to begin pumping events.
func NewBehaviour(ctx context.Context, cfg Config) (*Behaviour, error) {
	h, err := libp2p.New(
		libp2p.Identity(cfg.PrivateKey),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.ListenAddrStrings(
			"/ip4/0.0.0.0/udp/0/quic-v1",
			"/ip6/::/udp/0/quic-v1",
		),
	)
	if err != nil {
		return nil, fmt.Errorf("meshnet: creating libp2p host: %w", err)
	}

	var psOpts []pubsub.Option
	if cfg.FloodPublish {
		psOpts = append(psOpts, pubsub.WithFloodPublish(true))
	}
	ps, err := pubsub.NewGossipSub(ctx, h, psOpts...)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("meshnet: creating gossipsub: %w", err)
	}

	announceTopic, err := ps.Join(AnnounceTopicName)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("meshnet: joining %s: %w", AnnounceTopicName, err)
	}
	commTopic, err := ps.Join(CommunicatorTopicName)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("meshnet: joining %s: %w", CommunicatorTopicName, err)
	}

	announceSub, err := announceTopic.Subscribe()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("meshnet: subscribing %s: %w", AnnounceTopicName, err)
	}
	commSub, err := commTopic.Subscribe()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("meshnet: subscribing %s: %w", CommunicatorTopicName, err)
	}

	kdht, err := dht.New(ctx, h, dht.Mode(cfg.DHTMode))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("meshnet: creating dht: %w", err)
	}

	bctx, cancel := context.WithCancel(ctx)
	b := &Behaviour{
		Host:          h,
		PubSub:        ps,
		AnnounceTopic: announceTopic,
		CommTopic:     commTopic,
		announceSub:   announceSub,
		commSub:       commSub,
		DHT:           kdht,
		events:        make(chan Event, 64),
		ctx:           bctx,
		cancel:        cancel,
	}

	// Chain onto the DHT's own PeerAdded hook rather than replacing it —
	// go-libp2p-kad-dht uses it for its own routing-table bookkeeping.
	prevPeerAdded := b.DHT.RoutingTable().PeerAdded
	b.DHT.RoutingTable().PeerAdded = func(p peer.ID) {
		if prevPeerAdded != nil {
			prevPeerAdded(p)
		}
		b.emit(Event{Kind: EventDHTRoutingUpdated, Peer: p})
	}

	b.mdns = newMDNSDiscovery(h, kdht, b.events)

	return b, nil
}

// Start bootstraps the DHT and begins pumping events from the gossip
// subscriptions, the host's address-change notifications, and LAN
// discovery onto Events(). Safe to call once per Behaviour.
func (b *Behaviour) Start(ctx context.Context) error {
	if err := b.DHT.Bootstrap(ctx); err != nil {
		return fmt.Errorf("meshnet: dht bootstrap: %w", err)
	}

	go b.readSubscription(b.announceSub)
	go b.readSubscription(b.commSub)
	go b.watchListenAddrs()

	if err := b.mdns.start(b.ctx); err != nil {
		// Non-fatal: LAN discovery failing is degraded mode, not fatal
		// per the role's failure semantics.
		b.emit(Event{Kind: EventOther, Note: fmt.Sprintf("mdns start failed: %v", err)})
	}

	return nil
}

// Events returns the channel of tagged swarm events. The caller (the
// node runtime) is the sole reader and must keep draining it.
func (b *Behaviour) Events() <-chan Event {
	return b.events
}

// Close cancels both gossip subscriptions and tears down LAN
// discovery, the DHT, and the libp2p host.
func (b *Behaviour) Close() error {
	b.cancel()
	b.announceSub.Cancel()
	b.commSub.Cancel()
	if b.mdns != nil {
		b.mdns.close()
	}
	if err := b.DHT.Close(); err != nil {
		return err
	}
	return b.Host.Close()
}

func (b *Behaviour) emit(ev Event) {
	select {
	case b.events <- ev:
	case <-b.ctx.Done():
	}
}
