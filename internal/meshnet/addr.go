package meshnet

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// ParseBootstrapAddr parses a multiaddr of the form
// /ip4/…/udp/…/quic-v1/p2p/<peer-id> into a peer.AddrInfo, extracting
// the embedded peer ID.
func ParseBootstrapAddr(addr string) (peer.AddrInfo, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("meshnet: invalid bootstrap multiaddr %q: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("meshnet: extracting peer id from %q: %w", addr, err)
	}
	return *info, nil
}
