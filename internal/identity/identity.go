// Package identity loads or generates the node's long-lived Ed25519
// keypair and derives its stable NodeId.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// rawKeyLen is the length of the base64-decoded identity.key payload:
// a 32-byte Ed25519 seed followed by the 32-byte public key.
const rawKeyLen = ed25519.SeedSize + ed25519.PublicKeySize

// NodeId is the stable, comparable identifier derived from a node's
// public key: the libp2p peer-ID encoding (base58 multihash) of the
// Ed25519 public key.
type NodeId string

// ErrMalformedKeyFile is returned when identity.key exists but does not
// decode to exactly the expected 64-byte seed‖public-key shape. The
// spec requires this to be fatal, never silently regenerated.
var ErrMalformedKeyFile = errors.New("identity: malformed key file")

// Identity is the node's cryptographic identity. Constructed once per
// process and never mutated afterward.
type Identity struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	NodeID     NodeId
}

// info is the shape persisted to identity.json — public information
// only, meant to be shared (see identity.key for the private half).
type info struct {
	PeerID    string `json:"peer_id"`
	PublicKey string `json:"public_key"`
}

// Dir returns the directory holding the node's identity files:
// $HOME/.cortex, falling back to /home/cortexuser/.cortex when HOME
// is unset.
func Dir() string {
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".cortex")
	}
	return "/home/cortexuser/.cortex"
}

func keyPath(dir string) string  { return filepath.Join(dir, "identity.key") }
func infoPath(dir string) string { return filepath.Join(dir, "identity.json") }

// LoadOrGenerate loads the identity from dir/identity.key, or generates
// and persists a fresh one if the file is absent. Idempotent: repeated
// calls against the same directory return the same NodeId.
func LoadOrGenerate(dir string) (*Identity, error) {
	path := keyPath(dir)

	content, err := os.ReadFile(path)
	if err == nil {
		return decodeIdentity(content)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: reading %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("identity: generating keypair: %w", err)
	}

	raw := make([]byte, 0, rawKeyLen)
	raw = append(raw, priv.Seed()...)
	raw = append(raw, pub...)
	encoded := base64.StdEncoding.EncodeToString(raw)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("identity: creating %s: %w", dir, err)
	}
	if err := writeFileAtomic(path, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("identity: writing %s: %w", path, err)
	}

	return identityFromRaw(priv, pub)
}

// decodeIdentity parses the base64 content of an existing identity.key.
func decodeIdentity(content []byte) (*Identity, error) {
	raw, err := base64.StdEncoding.DecodeString(trimTrailingNewline(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKeyFile, err)
	}
	if len(raw) != rawKeyLen {
		return nil, fmt.Errorf("%w: decoded to %d bytes, want %d", ErrMalformedKeyFile, len(raw), rawKeyLen)
	}

	seed := raw[:ed25519.SeedSize]
	pub := ed25519.PublicKey(raw[ed25519.SeedSize:])
	priv := ed25519.NewKeyFromSeed(seed)
	if !pub.Equal(priv.Public().(ed25519.PublicKey)) {
		return nil, fmt.Errorf("%w: seed and public key do not match", ErrMalformedKeyFile)
	}

	return identityFromRaw(priv, pub)
}

func identityFromRaw(priv ed25519.PrivateKey, pub ed25519.PublicKey) (*Identity, error) {
	nodeID, err := NodeID(pub)
	if err != nil {
		return nil, err
	}
	return &Identity{PrivateKey: priv, PublicKey: pub, NodeID: nodeID}, nil
}

// NodeID derives the stable libp2p-style peer ID (base58 multihash)
// from the raw 32-byte Ed25519 public key.
func NodeID(pub ed25519.PublicKey) (NodeId, error) {
	libp2pPub, err := crypto.UnmarshalEd25519PublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("identity: unmarshaling public key: %w", err)
	}
	id, err := peer.IDFromPublicKey(libp2pPub)
	if err != nil {
		return "", fmt.Errorf("identity: deriving peer id: %w", err)
	}
	return NodeId(id.String()), nil
}

// SaveInfo writes the human-shareable identity.json: the peer ID and
// the 32-byte public key only, never the private seed.
func SaveInfo(dir string, id *Identity) error {
	payload := info{
		PeerID:    string(id.NodeID),
		PublicKey: base64.StdEncoding.EncodeToString(id.PublicKey),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshaling identity.json: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("identity: creating %s: %w", dir, err)
	}
	if err := os.WriteFile(infoPath(dir), data, 0644); err != nil {
		return fmt.Errorf("identity: writing identity.json: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to path by writing to a temp file in the
// same directory and renaming it into place, avoiding truncation on a
// crash mid-write.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".identity-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func trimTrailingNewline(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
