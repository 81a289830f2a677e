package meshnet

import (
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// EventKind tags the variant carried by an Event. The node runtime
// matches on this instead of walking a type hierarchy, per the three
// sub-behaviours {Gossip, LAN, DHT} plus transport-level notices.
type EventKind int

const (
	// EventGossipMessage carries a message received on one of the two
	// gossip topics. Topic distinguishes announce from communicator.
	EventGossipMessage EventKind = iota
	// EventLANPeersDiscovered carries peers found via mDNS this round.
	EventLANPeersDiscovered
	// EventLANPeersExpired carries peers no longer seen via mDNS.
	EventLANPeersExpired
	// EventDHTRoutingUpdated fires when a peer is added to the DHT
	// routing table.
	EventDHTRoutingUpdated
	// EventNewListenAddr fires for each address in the host's current
	// listen set whenever that set is updated — the start-up barrier
	// waits for the first of these.
	EventNewListenAddr
	// EventOther covers everything the runtime only logs.
	EventOther
)

// Event is the single tagged type the node runtime's select loop
// matches on, merging the three sub-behaviours into one stream.
type Event struct {
	Kind EventKind

	// Populated for EventGossipMessage.
	Topic string
	Data  []byte
	From  peer.ID

	// Populated for EventLANPeersDiscovered / EventLANPeersExpired.
	Peers []peer.AddrInfo

	// Populated for EventDHTRoutingUpdated.
	Peer peer.ID

	// Populated for EventNewListenAddr.
	Addr ma.Multiaddr

	// Populated for EventOther, and as a free-form detail elsewhere.
	Note string
}

// readSubscription pumps messages from a gossipsub subscription onto
// the shared event channel until its context is cancelled. Messages
// authored by this host are still forwarded — the runtime, not this
// loop, is responsible for dropping self-announcements, since only it
// knows the node's own NodeId.
func (b *Behaviour) readSubscription(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(b.ctx)
		if err != nil {
			return // context cancelled, or subscription closed on Close()
		}
		b.emit(Event{
			Kind:  EventGossipMessage,
			Topic: sub.Topic(),
			Data:  msg.Data,
			From:  msg.ReceivedFrom,
		})
	}
}

// watchListenAddrs subscribes to the host's local-address-update
// events and reports every address in each update's current set as an
// EventNewListenAddr, including addresses already reported by an
// earlier update.
func (b *Behaviour) watchListenAddrs() {
	sub, err := b.Host.EventBus().Subscribe(new(event.EvtLocalAddressesUpdated))
	if err != nil {
		b.emit(Event{Kind: EventOther, Note: "subscribing to address updates: " + err.Error()})
		return
	}
	defer sub.Close()

	for {
		select {
		case <-b.ctx.Done():
			return
		case raw, ok := <-sub.Out():
			if !ok {
				return
			}
			evt, ok := raw.(event.EvtLocalAddressesUpdated)
			if !ok {
				continue
			}
			for _, a := range evt.Current {
				b.emit(Event{Kind: EventNewListenAddr, Addr: a.Address})
			}
		}
	}
}
