package meshnet

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"
	ma "github.com/multiformats/go-multiaddr"
)

// mdnsServiceName is the DNS-SD service type used for LAN discovery.
const mdnsServiceName = "_cortex-id._udp"

const (
	mdnsBrowseInterval = 30 * time.Second
	mdnsBrowseTimeout  = 10 * time.Second
	mdnsDedupeInterval = 30 * time.Second
	dnsaddrPrefix      = "dnsaddr="
)

// mdnsDiscovery advertises this node on the local network via
// zeroconf and periodically browses for peers. Discovered peers are
// added to the DHT routing table — never dialed eagerly; the DHT
// decides whether and when to connect.
type mdnsDiscovery struct {
	host   host.Host
	dht    *dht.IpfsDHT
	events chan<- Event

	server *zeroconf.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastSeen map[peer.ID]time.Time
}

func newMDNSDiscovery(h host.Host, d *dht.IpfsDHT, events chan<- Event) *mdnsDiscovery {
	return &mdnsDiscovery{
		host:     h,
		dht:      d,
		events:   events,
		lastSeen: make(map[peer.ID]time.Time),
	}
}

func (m *mdnsDiscovery) start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.startServer(); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.browseLoop()
	return nil
}

func (m *mdnsDiscovery) close() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.server != nil {
		m.server.Shutdown()
	}
	m.wg.Wait()
}

// startServer registers this node with zeroconf. TXT records follow
// libp2p's own mDNS wrapper convention (dnsaddr=<multiaddr>) so nodes
// using either implementation can discover each other.
func (m *mdnsDiscovery) startServer() error {
	interfaceAddrs, err := m.host.Network().InterfaceListenAddresses()
	if err != nil {
		return err
	}
	p2pAddrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: m.host.ID(), Addrs: interfaceAddrs})
	if err != nil {
		return err
	}

	var txts []string
	var ips []string
	for _, addr := range p2pAddrs {
		txts = append(txts, dnsaddrPrefix+addr.String())
	}
	ips = hostIPs(interfaceAddrs)

	peerName := randomString(40)
	server, err := zeroconf.RegisterProxy(
		peerName,
		mdnsServiceName,
		"local",
		4242,
		peerName,
		ips,
		txts,
		nil,
	)
	if err != nil {
		return err
	}
	m.server = server
	return nil
}

func (m *mdnsDiscovery) browseLoop() {
	defer m.wg.Done()

	select {
	case <-time.After(2 * time.Second):
	case <-m.ctx.Done():
		return
	}

	m.runBrowse()

	ticker := time.NewTicker(mdnsBrowseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runBrowse()
		}
	}
}

func (m *mdnsDiscovery) runBrowse() {
	browseCtx, cancel := context.WithTimeout(m.ctx, mdnsBrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	go func() {
		_ = zeroconf.Browse(browseCtx, mdnsServiceName, "local.", entries)
	}()

	seenThisRound := make(map[peer.ID]bool)
	for entry := range entries {
		pi, ok := m.parseEntry(entry)
		if !ok {
			continue
		}
		seenThisRound[pi.ID] = true
		m.handlePeerFound(pi)
	}

	m.reportExpired(seenThisRound)
}

func (m *mdnsDiscovery) parseEntry(entry *zeroconf.ServiceEntry) (peer.AddrInfo, bool) {
	addrs := make([]ma.Multiaddr, 0, len(entry.Text))
	for _, txt := range entry.Text {
		if !strings.HasPrefix(txt, dnsaddrPrefix) {
			continue
		}
		addr, err := ma.NewMultiaddr(txt[len(dnsaddrPrefix):])
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return peer.AddrInfo{}, false
	}
	infos, err := peer.AddrInfosFromP2pAddrs(addrs...)
	if err != nil || len(infos) == 0 {
		return peer.AddrInfo{}, false
	}
	pi := infos[0]
	if pi.ID == m.host.ID() {
		return peer.AddrInfo{}, false
	}
	return pi, true
}

func (m *mdnsDiscovery) handlePeerFound(pi peer.AddrInfo) {
	m.mu.Lock()
	if last, ok := m.lastSeen[pi.ID]; ok && time.Since(last) < mdnsDedupeInterval {
		m.lastSeen[pi.ID] = time.Now()
		m.mu.Unlock()
		return
	}
	m.lastSeen[pi.ID] = time.Now()
	m.mu.Unlock()

	m.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, 10*time.Minute)
	m.dht.RoutingTable().TryAddPeer(pi.ID, true, false) // best-effort; a rejection just skips this peer

	select {
	case m.events <- Event{Kind: EventLANPeersDiscovered, Peers: []peer.AddrInfo{pi}}:
	case <-m.ctx.Done():
	}
}

func (m *mdnsDiscovery) reportExpired(seenThisRound map[peer.ID]bool) {
	m.mu.Lock()
	var expired []peer.AddrInfo
	cutoff := time.Now().Add(-2 * mdnsBrowseInterval)
	for id, last := range m.lastSeen {
		if !seenThisRound[id] && last.Before(cutoff) {
			expired = append(expired, peer.AddrInfo{ID: id})
			delete(m.lastSeen, id)
		}
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	select {
	case m.events <- Event{Kind: EventLANPeersExpired, Peers: expired}:
	case <-m.ctx.Done():
	}
}

func hostIPs(addrs []ma.Multiaddr) []string {
	var ips []string
	for _, a := range addrs {
		v, err := a.ValueForProtocol(ma.P_IP4)
		if err == nil {
			ips = append(ips, v)
			continue
		}
		if v, err := a.ValueForProtocol(ma.P_IP6); err == nil {
			ips = append(ips, v)
		}
	}
	if len(ips) == 0 {
		ips = []string{"0.0.0.0"}
	}
	return ips
}

const randomStringAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = randomStringAlphabet[rand.Intn(len(randomStringAlphabet))]
	}
	return string(b)
}
