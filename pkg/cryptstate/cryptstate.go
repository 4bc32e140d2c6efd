// Package cryptstate implements the OCB2-AES128 packet cipher used for
// Mumble voice traffic, including IV sequencing, replay detection and
// loss/late statistics.
package cryptstate

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"sync"
)

const (
	// KeySize is the length in bytes of the OCB2-AES128 key and both IVs.
	KeySize = 16
	// blockSize is the AES block size, also the OCB2 checksum/tag size.
	blockSize = aes.BlockSize
	// macSize is the length in bytes of the truncated authentication tag
	// carried on the wire.
	macSize = 4
	// historySize is the number of low-IV-byte slots tracked for replay
	// detection.
	historySize = 256
)

var (
	// ErrShortCiphertext is returned when a packet is too small to contain
	// the IV byte and tag.
	ErrShortCiphertext = errors.New("cryptstate: ciphertext too short")
	// ErrKeyNotSet is returned by Encrypt/Decrypt before GenerateKey has
	// been called.
	ErrKeyNotSet = errors.New("cryptstate: key not initialized")
)

// Stats holds the local decrypt-side counters maintained per session, plus
// the most recently reported remote-side counters (received via Ping).
type Stats struct {
	Good   uint32
	Late   uint32
	Lost   uint32
	Resync uint32

	RemoteGood   uint32
	RemoteLate   uint32
	RemoteLost   uint32
	RemoteResync uint32
}

// CryptState holds the symmetric key, both IVs and replay history for one
// session's voice channel.
type CryptState struct {
	mu sync.Mutex

	RawKey    [KeySize]byte
	EncryptIV [KeySize]byte
	DecryptIV [KeySize]byte

	block cipher.Block

	history [historySize]byte
	haveHistory bool

	stats Stats

	// LastGoodTime is a unix timestamp updated on every successful
	// decrypt, used by callers to decide whether to request a resync.
	LastGoodTime int64
}

// New allocates a CryptState with no key installed.
func New() *CryptState {
	return &CryptState{}
}

// GenerateKey populates the key and both IVs with cryptographically random
// bytes and initializes the AES block cipher.
func (cs *CryptState) GenerateKey() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, err := rand.Read(cs.RawKey[:]); err != nil {
		return err
	}
	if _, err := rand.Read(cs.EncryptIV[:]); err != nil {
		return err
	}
	if _, err := rand.Read(cs.DecryptIV[:]); err != nil {
		return err
	}
	return cs.setupBlockLocked()
}

// SetKey installs an externally supplied key/IV triple (used when the Edge
// mirrors a key distributed by another component, or in tests).
func (cs *CryptState) SetKey(key, encryptIV, decryptIV [KeySize]byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.RawKey = key
	cs.EncryptIV = encryptIV
	cs.DecryptIV = decryptIV
	return cs.setupBlockLocked()
}

func (cs *CryptState) setupBlockLocked() error {
	block, err := aes.NewCipher(cs.RawKey[:])
	if err != nil {
		return err
	}
	cs.block = block
	return nil
}

// Overhead is the number of bytes Encrypt appends to the plaintext: one IV
// byte plus a truncated tag.
func (cs *CryptState) Overhead() int {
	return 1 + macSize
}

// Stats returns a copy of the current statistics.
func (cs *CryptState) Stats() Stats {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.stats
}

// SetRemoteStats records statistics reported by the peer (normally received
// inside a Ping message).
func (cs *CryptState) SetRemoteStats(good, late, lost, resync uint32) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.stats.RemoteGood = good
	cs.stats.RemoteLate = late
	cs.stats.RemoteLost = lost
	cs.stats.RemoteResync = resync
}

// ResyncDecryptIV installs a client-provided nonce as the new decrypt IV,
// resetting the replay history and counting a resync.
func (cs *CryptState) ResyncDecryptIV(nonce [KeySize]byte) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.DecryptIV = nonce
	cs.haveHistory = false
	cs.history = [historySize]byte{}
	cs.stats.Resync++
}

// ivAdd increments a little-endian IV by delta, carrying from byte 0.
func ivAdd(iv *[KeySize]byte, delta int) {
	if delta >= 0 {
		for i := 0; i < delta; i++ {
			ivIncrement(iv)
		}
		return
	}
	for i := 0; i < -delta; i++ {
		ivDecrement(iv)
	}
}

func ivIncrement(iv *[KeySize]byte) {
	for i := 0; i < KeySize; i++ {
		iv[i]++
		if iv[i] != 0 {
			return
		}
	}
}

func ivDecrement(iv *[KeySize]byte) {
	for i := 0; i < KeySize; i++ {
		if iv[i] != 0 {
			iv[i]--
			return
		}
		iv[i] = 0xFF
	}
}

// Encrypt produces an OCB2-AES128 ciphertext for plaintext. The result is
// len(plaintext)+cs.Overhead() bytes: low IV byte, 4-byte tag, ciphertext.
func (cs *CryptState) Encrypt(plaintext []byte) ([]byte, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.block == nil {
		return nil, ErrKeyNotSet
	}

	ivIncrement(&cs.EncryptIV)

	dst := make([]byte, len(plaintext))
	tag := ocb2Encrypt(cs.block, cs.EncryptIV, dst, plaintext)

	out := make([]byte, 1+macSize+len(dst))
	out[0] = cs.EncryptIV[0]
	copy(out[1:1+macSize], tag[:macSize])
	copy(out[1+macSize:], dst)
	return out, nil
}

// DecryptResult is the outcome of a Decrypt call.
type DecryptResult struct {
	Plaintext []byte
	Valid     bool
	Late      uint32
	Lost      uint32
}

// Decrypt authenticates and decrypts a ciphertext produced by Encrypt,
// enforcing the strict-IV-window sequencing and replay checks of the
// Mumble wire protocol. On any failure (short input, replay, out-of-window
// IV, tag mismatch), it returns Valid=false and the IV state is left
// unchanged.
func (cs *CryptState) Decrypt(ciphertext []byte) (DecryptResult, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.block == nil {
		return DecryptResult{}, ErrKeyNotSet
	}
	if len(ciphertext) < 1+macSize {
		return DecryptResult{}, ErrShortCiphertext
	}

	ivByte := ciphertext[0]
	tag := ciphertext[1 : 1+macSize]
	body := ciphertext[1+macSize:]

	savedIV := cs.DecryptIV

	var lateDelta, lostDelta int
	var candidate [KeySize]byte

	lostFromLast := int(ivByte) - int(cs.DecryptIV[0])
	if lostFromLast < 0 {
		lostFromLast += 256
	}
	back := int(cs.DecryptIV[0]) - int(ivByte)
	if back < 0 {
		back += 256
	}

	switch {
	case ivByte == byte(int(cs.DecryptIV[0])+1):
		// Fast path: next expected packet.
		candidate = cs.DecryptIV
		ivIncrement(&candidate)
	case back > 0 && back <= 30:
		// Late packet, within the last 30 IVs. Restore after use.
		candidate = cs.DecryptIV
		ivAdd(&candidate, -back)
		lateDelta = 1
	case lostFromLast > 0 && lostFromLast <= 256:
		// Packet(s) lost; advance IV, counting the gap.
		candidate = cs.DecryptIV
		ivAdd(&candidate, lostFromLast)
		lostDelta = lostFromLast - 1
	default:
		return DecryptResult{Valid: false}, nil
	}

	if cs.haveHistory && cs.history[candidate[0]] == candidate[1] {
		// Replay.
		return DecryptResult{Valid: false}, nil
	}

	dst := make([]byte, len(body))
	tagComputed := ocb2Decrypt(cs.block, candidate, dst, body)
	if !constantTimeEqual(tagComputed[:macSize], tag) {
		return DecryptResult{Valid: false}, nil
	}

	cs.history[candidate[0]] = candidate[1]
	cs.haveHistory = true

	if lateDelta == 0 {
		cs.DecryptIV = candidate
	} else {
		cs.DecryptIV = savedIV
	}

	cs.stats.Good++
	cs.stats.Late += uint32(lateDelta)
	if lostDelta > 0 {
		cs.stats.Lost += uint32(lostDelta)
	}

	return DecryptResult{
		Plaintext: dst,
		Valid:     true,
		Late:      uint32(lateDelta),
		Lost:      uint32(lostDelta),
	}, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
