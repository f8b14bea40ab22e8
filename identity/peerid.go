package identity

import (
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/ekiva-dev/ember/crypto"
)

// PeerId is the public half of an ed25519 keypair, identifying a peer or a
// delegation key. Unlike crypto.PubKey's check-encoded Base58 (which carries
// a version byte for node addresses), PeerId's textual form is the plain
// base58 encoding used in commit trailers and delegation sets.
type PeerId struct {
	pub *crypto.PubKey
}

// NewPeerId wraps a crypto.PubKey as a PeerId.
func NewPeerId(pub *crypto.PubKey) PeerId {
	return PeerId{pub: pub}
}

// PubKey returns the wrapped public key.
func (p PeerId) PubKey() *crypto.PubKey { return p.pub }

// Bytes returns the raw 32-byte public key.
func (p PeerId) Bytes() []byte {
	b, _ := p.pub.Bytes()
	return b
}

// String renders the plain (non-check-encoded) base58 form used in commit
// trailers and delegation sets.
func (p PeerId) String() string {
	return base58.Encode(p.Bytes())
}

// Equal compares two PeerIds by public key bytes.
func (p PeerId) Equal(other PeerId) bool {
	a, b := p.Bytes(), other.Bytes()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PeerIdFromString decodes the plain base58 form produced by String.
func PeerIdFromString(s string) (PeerId, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return PeerId{}, errors.Wrap(err, "peerid: invalid base58")
	}
	pub, err := crypto.PubKeyFromBytes(raw)
	if err != nil {
		return PeerId{}, errors.Wrap(err, "peerid: invalid public key")
	}
	return PeerId{pub: pub}, nil
}

// Verify checks a signature over data against this peer's public key.
func (p PeerId) Verify(data, sig []byte) (bool, error) {
	return p.pub.Verify(data, sig)
}
