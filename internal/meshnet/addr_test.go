package meshnet

import "testing"

func TestParseBootstrapAddrExtractsPeerID(t *testing.T) {
	addr := "/ip4/127.0.0.1/udp/4001/quic-v1/p2p/12D3KooWGRujUfZkYGRyTtFDBbfq2VK4f1Ci9NvQMDjhLhFMNmJH"

	info, err := ParseBootstrapAddr(addr)
	if err != nil {
		t.Fatalf("ParseBootstrapAddr: %v", err)
	}
	if info.ID.String() != "12D3KooWGRujUfZkYGRyTtFDBbfq2VK4f1Ci9NvQMDjhLhFMNmJH" {
		t.Errorf("peer id = %q, want the one embedded in the multiaddr", info.ID.String())
	}
	if len(info.Addrs) != 1 {
		t.Fatalf("len(Addrs) = %d, want 1", len(info.Addrs))
	}
}

func TestParseBootstrapAddrRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-multiaddr",
		"/ip4/127.0.0.1/udp/4001/quic-v1", // missing /p2p/<id>
	}
	for _, addr := range cases {
		if _, err := ParseBootstrapAddr(addr); err == nil {
			t.Errorf("ParseBootstrapAddr(%q) = nil error, want an error", addr)
		}
	}
}
