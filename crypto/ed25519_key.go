// Package crypto provides ember's node identity keypairs and their
// textual encodings.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"

	lcrypto "github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// AddressVersion is the base58 check-encode version used for node addresses
var AddressVersion byte = 92

// PublicKeyVersion is the base58 check-encode version used for public keys
var PublicKeyVersion byte = 93

// PrivateKeyVersion is the base58 check-encode version used for private keys
var PrivateKeyVersion byte = 94

// Key wraps an Ed25519 keypair and provides the derived address and peer ID.
type Key struct {
	privKey *PrivKey
	Meta    map[string]interface{}
}

// PubKey represents a public key
type PubKey struct {
	pubKey lcrypto.PubKey
}

// PrivKey represents a private key
type PrivKey struct {
	privKey lcrypto.PrivKey
}

// NewKey creates a new Ed25519 Key. If seed is non-nil, key generation is
// made deterministic from it, primarily for tests.
func NewKey(seed *int64) (*Key, error) {
	var r = rand.Reader
	if seed != nil {
		r = mrand.New(mrand.NewSource(*seed))
	}

	priv, _, err := lcrypto.GenerateEd25519Key(r)
	if err != nil {
		return nil, err
	}

	return &Key{
		privKey: &PrivKey{privKey: priv},
		Meta:    make(map[string]interface{}),
	}, nil
}

// NewKeyFromIntSeed is like NewKey but accepts an int seed, for tests.
func NewKeyFromIntSeed(seed int) *Key {
	int64Seed := int64(seed)
	key, _ := NewKey(&int64Seed)
	return key
}

// NewKeyFromPrivKey creates a new Key instance from a PrivKey
func NewKeyFromPrivKey(sk *PrivKey) *Key {
	return &Key{privKey: sk, Meta: make(map[string]interface{})}
}

// PeerID returns the libp2p peer ID derived from the public key.
func (k *Key) PeerID() peer.ID {
	id, _ := peer.IDFromPublicKey(k.PubKey().pubKey)
	return id
}

// Addr returns the node's textual address.
func (k *Key) Addr() string {
	return k.PubKey().Addr()
}

// PubKey returns the public key
func (k *Key) PubKey() *PubKey {
	return &PubKey{pubKey: k.privKey.privKey.GetPublic()}
}

// PrivKey returns the private key
func (k *Key) PrivKey() *PrivKey {
	return k.privKey
}

// Bytes returns the raw 32-byte public key.
func (p *PubKey) Bytes() ([]byte, error) {
	if p.pubKey == nil {
		return nil, fmt.Errorf("public key is nil")
	}
	return p.pubKey.(*lcrypto.Ed25519PublicKey).Raw()
}

// Hex returns the public key in hex encoding
func (p *PubKey) Hex() string {
	bs, _ := p.Bytes()
	return hex.EncodeToString(bs)
}

// Base58 returns the public key in check-encoded base58
func (p *PubKey) Base58() string {
	bs, _ := p.Bytes()
	return base58.CheckEncode(bs, PublicKeyVersion)
}

// Verify verifies a signature produced over data against this public key
func (p *PubKey) Verify(data, sig []byte) (bool, error) {
	return p.pubKey.Verify(data, sig)
}

// Addr derives a textual address from the public key: sha3-256, then
// ripemd160, then base58 check-encoding.
func (p *PubKey) Addr() string {
	pk, _ := p.Bytes()

	pubSha256 := sha3.Sum256(pk)

	r := ripemd160.New()
	r.Write(pubSha256[:])
	addr := r.Sum(nil)

	var addr20 [20]byte
	copy(addr20[:], addr)
	return RIPEMD160ToAddr(addr20)
}

// Bytes returns the raw 64-byte private key (the 32-byte seed followed
// by the 32-byte public key).
func (p *PrivKey) Bytes() ([]byte, error) {
	if p.privKey == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	return p.privKey.(*lcrypto.Ed25519PrivateKey).Raw()
}

// Marshal encodes the private key in libp2p's protobuf key envelope.
func (p *PrivKey) Marshal() ([]byte, error) {
	return lcrypto.MarshalPrivateKey(p.privKey)
}

// Base58 returns the private key in check-encoded base58
func (p *PrivKey) Base58() string {
	bs, _ := p.Bytes()
	return base58.CheckEncode(bs, PrivateKeyVersion)
}

// Sign signs a message
func (p *PrivKey) Sign(data []byte) ([]byte, error) {
	return p.privKey.Sign(data)
}

// Key returns the wrapped libp2p-core private key
func (p *PrivKey) Key() lcrypto.PrivKey {
	return p.privKey
}

// IsValidAddr checks whether an address is a validly check-encoded node address
func IsValidAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	result, v, err := base58.CheckDecode(addr)
	if err != nil {
		return err
	}
	if len(result) != 20 {
		return fmt.Errorf("invalid address size")
	}
	if v != AddressVersion {
		return fmt.Errorf("invalid version")
	}
	return nil
}

// RIPEMD160ToAddr check-encodes a 20 byte ripemd160 digest into an address
func RIPEMD160ToAddr(hash [20]byte) string {
	return base58.CheckEncode(hash[:], AddressVersion)
}

// IsValidPubKey checks whether a string is a validly check-encoded public key
func IsValidPubKey(pubKey string) error {
	if pubKey == "" {
		return fmt.Errorf("empty pub key")
	}
	_, v, err := base58.CheckDecode(pubKey)
	if err != nil {
		return err
	}
	if v != PublicKeyVersion {
		return fmt.Errorf("invalid version")
	}
	return nil
}

// IsValidPrivKey checks whether a string is a validly check-encoded private key
func IsValidPrivKey(privKey string) error {
	if privKey == "" {
		return fmt.Errorf("empty priv key")
	}
	_, v, err := base58.CheckDecode(privKey)
	if err != nil {
		return err
	}
	if v != PrivateKeyVersion {
		return fmt.Errorf("invalid version")
	}
	return nil
}

// PubKeyFromBase58 decodes a check-encoded base58 public key
func PubKeyFromBase58(pk string) (*PubKey, error) {
	if err := IsValidPubKey(pk); err != nil {
		return nil, err
	}
	decPubKey, _, _ := base58.CheckDecode(pk)
	pubKey, err := lcrypto.UnmarshalEd25519PublicKey(decPubKey)
	if err != nil {
		return nil, err
	}
	return &PubKey{pubKey: pubKey}, nil
}

// PubKeyFromBytes returns a PubKey instance from a 32 byte raw public key
func PubKeyFromBytes(pk []byte) (*PubKey, error) {
	pubKey, err := lcrypto.UnmarshalEd25519PublicKey(pk)
	if err != nil {
		return nil, err
	}
	return &PubKey{pubKey: pubKey}, nil
}

// PrivKeyFromBase58 decodes a check-encoded base58 private key
func PrivKeyFromBase58(pk string) (*PrivKey, error) {
	if err := IsValidPrivKey(pk); err != nil {
		return nil, err
	}
	sk, _, _ := base58.CheckDecode(pk)
	privKey, err := lcrypto.UnmarshalEd25519PrivateKey(sk)
	if err != nil {
		return nil, err
	}
	return &PrivKey{privKey: privKey}, nil
}

// PrivKeyFromBytes returns a PrivKey instance from a 64 byte raw private key
func PrivKeyFromBytes(bz [64]byte) (*PrivKey, error) {
	privKey, err := lcrypto.UnmarshalEd25519PrivateKey(bz[:])
	if err != nil {
		return nil, err
	}
	return &PrivKey{privKey: privKey}, nil
}
