package meshnet

import (
	"context"
	"fmt"
	"time"

	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"

	"github.com/libp2p/go-libp2p/core/peer"
)

// findPeersTimeout bounds a single GetProviders round so a slow or
// empty DHT never stalls the command loop indefinitely.
const findPeersTimeout = 20 * time.Second

// StartProviding announces this node as a provider of RendezvousKey.
// Bootstrap nodes call this once at start-up; failure is logged by the
// caller and left in degraded mode, never fatal.
func (b *Behaviour) StartProviding(ctx context.Context) error {
	rd := drouting.NewRoutingDiscovery(b.DHT)
	if _, err := rd.Advertise(ctx, RendezvousKey); err != nil {
		return fmt.Errorf("meshnet: advertising rendezvous: %w", err)
	}
	return nil
}

// GetProviders looks up peers currently providing RendezvousKey. Used
// by both roles' periodic schedule to find other mesh members.
func (b *Behaviour) GetProviders(ctx context.Context) ([]peer.AddrInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, findPeersTimeout)
	defer cancel()

	rd := drouting.NewRoutingDiscovery(b.DHT)
	peerCh, err := rd.FindPeers(ctx, RendezvousKey)
	if err != nil {
		return nil, fmt.Errorf("meshnet: finding providers: %w", err)
	}

	var found []peer.AddrInfo
	for pi := range peerCh {
		if pi.ID == b.Host.ID() || pi.ID == "" {
			continue
		}
		found = append(found, pi)
	}
	return found, nil
}

// AddBootstrapPeer adds addr's peer ID and multiaddr to the peerstore
// and DHT routing table, then dials it eagerly. Used once at start-up
// by light nodes configured with CORTEX_BOOTSTRAP_PEER — the one place
// the mesh does eager dialing, since without it a light node with no
// LAN peers could never find the DHT at all.
func (b *Behaviour) AddBootstrapPeer(ctx context.Context, addr peer.AddrInfo) error {
	b.Host.Peerstore().AddAddrs(addr.ID, addr.Addrs, time.Hour)
	if err := b.Host.Connect(ctx, addr); err != nil {
		return fmt.Errorf("meshnet: dialing bootstrap peer: %w", err)
	}
	// The DHT incorporates the peer into its routing table itself once
	// connected; no need to poke it directly.
	return nil
}
