// Package aead abstracts the two cryptographic primitives the
// serializer needs: an AEAD for sealing each multi-instruction's
// instruction sequence, and a public-key sealed box for delivering the
// session key that AEAD is keyed with. Both are interfaces so tests
// can inject a deterministic double instead of real encryption.
package aead

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"
)

// Sealer is the AEAD + sealed-box abstraction the serializer depends
// on. Encrypt returns ciphertext with the authentication tag appended
// (ct‖tag); Seal wraps a message anonymously for a fixed recipient.
type Sealer interface {
	Encrypt(key, nonce, ad, plaintext []byte) []byte
	Seal(pub *[32]byte, plaintext []byte) ([]byte, error)
}

// Opener is the inverse of Encrypt. The secure element itself is the
// only production holder of a session key, so only test doubles need
// to implement this in practice; ChaChaSealer implements it anyway
// since nothing about opening a chacha20poly1305 box requires a
// private key, unlike Seal's sealed-box counterpart.
type Opener interface {
	Decrypt(key, nonce, ad, ciphertext []byte) ([]byte, error)
}

// ChaChaSealer backs Sealer with chacha20poly1305 (an AEAD with a
// 128-bit tag like Schwaemm128-128's, but a 256-bit key and a 96-bit
// nonce) and NaCl's anonymous
// sealed box (the same construction libsodium's crypto_box_seal
// wraps).
type ChaChaSealer struct{}

// aeadNonceSize is the nonce width chacha20poly1305.New expects.
const aeadNonceSize = chacha20poly1305.NonceSize

// fitNonce reduces an arbitrary-length nonce to the AEAD's required
// size. Callers pass a big-endian u256 encoding of a small integer
// (the LLMI's instrID), so its low-order bytes are a lossless,
// collision-free narrowing: the high-order bytes are always zero for
// any instrID that fits in fewer than aeadNonceSize*8 bits, which a
// 4-byte instrID always does.
func fitNonce(nonce []byte) []byte {
	out := make([]byte, aeadNonceSize)
	if len(nonce) >= aeadNonceSize {
		copy(out, nonce[len(nonce)-aeadNonceSize:])
		return out
	}
	copy(out[aeadNonceSize-len(nonce):], nonce)
	return out
}

// Encrypt panics on a malformed key: a caller-supplied key of the
// wrong length is never a recoverable runtime condition.
func (ChaChaSealer) Encrypt(key, nonce, ad, plaintext []byte) []byte {
	aeadCipher, err := chacha20poly1305.New(key)
	if err != nil {
		panic(fmt.Sprintf("aead: bad session key: %v", err))
	}
	return aeadCipher.Seal(nil, fitNonce(nonce), plaintext, ad)
}

// Seal anonymously encrypts plaintext for pub, producing a message
// only the holder of pub's private key can open.
func (ChaChaSealer) Seal(pub *[32]byte, plaintext []byte) ([]byte, error) {
	return box.SealAnonymous(nil, plaintext, pub, rand.Reader)
}

// Decrypt opens ciphertext produced by Encrypt with the same key, nonce,
// and associated data.
func (ChaChaSealer) Decrypt(key, nonce, ad, ciphertext []byte) ([]byte, error) {
	aeadCipher, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: bad session key: %w", err)
	}
	return aeadCipher.Open(nil, fitNonce(nonce), ciphertext, ad)
}

// StubSealer is a deterministic test double: Encrypt XORs the
// plaintext against the key and the nonce (each repeated to length)
// and appends a tag
// folded from the associated data (of the real AEAD's width), and
// Seal prepends a fixed-size zero envelope instead of an ephemeral-key
// box. Neither offers any actual secrecy, but folding ad into the tag
// means Decrypt still notices a caller that reconstructs the wrong
// associated data, the same class of bug a real AEAD's tag check
// would catch.
type StubSealer struct{}

// StubTagSize matches chacha20poly1305's tag width so StubSealer's
// output has the same shape as ChaChaSealer's.
const StubTagSize = chacha20poly1305.Overhead

// StubSealOverhead matches NaCl's anonymous-box overhead so
// StubSealer's envelope has the same shape as ChaChaSealer's.
const StubSealOverhead = box.AnonymousOverheadSize

// SealedKeySize is the wire width of a sealed 32-byte session key
// under either Sealer: fixed and sealer-independent, since both
// ChaChaSealer and StubSealer add exactly box.AnonymousOverheadSize
// bytes of overhead to a 32-byte message.
const SealedKeySize = 32 + box.AnonymousOverheadSize

// stubTag folds key and ad into a StubTagSize-byte tag, so a caller
// that builds the wrong associated data produces a tag Decrypt rejects.
func stubTag(key, ad []byte) []byte {
	tag := make([]byte, StubTagSize)
	for i, b := range key {
		tag[i%StubTagSize] ^= b
	}
	for i, b := range ad {
		tag[i%StubTagSize] ^= b ^ byte(i)
	}
	return tag
}

func (StubSealer) Encrypt(key, nonce, ad, plaintext []byte) []byte {
	out := make([]byte, len(plaintext)+StubTagSize)
	for i, b := range plaintext {
		out[i] = b ^ key[i%len(key)] ^ nonce[i%len(nonce)]
	}
	copy(out[len(plaintext):], stubTag(key, ad))
	return out
}

func (StubSealer) Seal(pub *[32]byte, plaintext []byte) ([]byte, error) {
	_ = pub
	out := make([]byte, StubSealOverhead+len(plaintext))
	copy(out[StubSealOverhead:], plaintext)
	return out, nil
}

// Decrypt reverses Encrypt's XOR and checks the ad-folded tag,
// returning an error if ad doesn't match what Encrypt was called with.
func (StubSealer) Decrypt(key, nonce, ad, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < StubTagSize {
		return nil, fmt.Errorf("aead: stub ciphertext shorter than tag")
	}
	body := ciphertext[:len(ciphertext)-StubTagSize]
	gotTag := ciphertext[len(ciphertext)-StubTagSize:]
	wantTag := stubTag(key, ad)
	for i := range gotTag {
		if gotTag[i] != wantTag[i] {
			return nil, fmt.Errorf("aead: stub authentication failed (associated data mismatch)")
		}
	}
	out := make([]byte, len(body))
	for i, b := range body {
		out[i] = b ^ key[i%len(key)] ^ nonce[i%len(nonce)]
	}
	return out, nil
}
