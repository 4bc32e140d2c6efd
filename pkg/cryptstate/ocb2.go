package cryptstate

import "crypto/cipher"

// ocb2.go implements the OCB2 authenticated-encryption construction used by
// Mumble voice packets, built on a raw AES-128-ECB block primitive. This is
// the classic Rogaway OCB1/OCB2 "delta chain" construction: a per-block
// mask Δ_i is derived by repeated doubling in GF(2^128) starting from
// E_K(nonce), and each block is encrypted as C_i = Δ_i xor E_K(Δ_i xor P_i).

func xor16(a, b [blockSize]byte) [blockSize]byte {
	var out [blockSize]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// doubleGF doubles a 128-bit value (big-endian byte order) in the field
// GF(2^128) defined by the polynomial x^128 + x^7 + x^2 + x + 1 (0x87).
func doubleGF(d [blockSize]byte) [blockSize]byte {
	var out [blockSize]byte
	carry := d[0] >> 7
	for i := 0; i < blockSize-1; i++ {
		out[i] = (d[i] << 1) | (d[i+1] >> 7)
	}
	out[blockSize-1] = d[blockSize-1] << 1
	if carry == 1 {
		out[blockSize-1] ^= 0x87
	}
	return out
}

func tripleGF(d [blockSize]byte) [blockSize]byte {
	return xor16(doubleGF(d), d)
}

func bytesToBlock(b []byte) [blockSize]byte {
	var out [blockSize]byte
	copy(out[:], b)
	return out
}

// ocb2Encrypt encrypts src into dst (same length) and returns the 16-byte
// authentication tag. dst and src may overlap-free share no underlying
// array; dst must be pre-allocated with len(dst) == len(src).
func ocb2Encrypt(block cipher.Block, nonce [blockSize]byte, dst, src []byte) [blockSize]byte {
	var delta [blockSize]byte
	block.Encrypt(delta[:], nonce[:])

	var checksum [blockSize]byte
	remaining := len(src)
	off := 0

	for remaining > blockSize {
		delta = doubleGF(delta)
		p := bytesToBlock(src[off : off+blockSize])
		tmp := xor16(delta, p)
		var enc [blockSize]byte
		block.Encrypt(enc[:], tmp[:])
		c := xor16(delta, enc)
		copy(dst[off:off+blockSize], c[:])
		checksum = xor16(checksum, p)

		off += blockSize
		remaining -= blockSize
	}

	// Final (possibly partial, possibly exactly one full block) chunk.
	padDelta := doubleGF(delta)
	lenBits := uint16(remaining * 8)
	var lenBlock [blockSize]byte
	lenBlock[blockSize-2] = byte(lenBits >> 8)
	lenBlock[blockSize-1] = byte(lenBits)
	tmp := xor16(padDelta, lenBlock)
	var pad [blockSize]byte
	block.Encrypt(pad[:], tmp[:])

	var finalPlain [blockSize]byte
	copy(finalPlain[:], src[off:off+remaining])
	copy(finalPlain[remaining:], pad[remaining:])
	checksum = xor16(checksum, finalPlain)

	finalCipher := xor16(pad, finalPlain)
	copy(dst[off:off+remaining], finalCipher[:remaining])

	tagDelta := tripleGF(padDelta)
	tagInput := xor16(tagDelta, checksum)
	var tag [blockSize]byte
	block.Encrypt(tag[:], tagInput[:])
	return tag
}

// ocb2Decrypt decrypts src into dst (same length) and returns the computed
// authentication tag for comparison against the one carried on the wire.
func ocb2Decrypt(block cipher.Block, nonce [blockSize]byte, dst, src []byte) [blockSize]byte {
	var delta [blockSize]byte
	block.Encrypt(delta[:], nonce[:])

	var checksum [blockSize]byte
	remaining := len(src)
	off := 0

	for remaining > blockSize {
		delta = doubleGF(delta)
		c := bytesToBlock(src[off : off+blockSize])
		tmp := xor16(delta, c)
		var dec [blockSize]byte
		block.Decrypt(dec[:], tmp[:])
		p := xor16(delta, dec)
		copy(dst[off:off+blockSize], p[:])
		checksum = xor16(checksum, p)

		off += blockSize
		remaining -= blockSize
	}

	padDelta := doubleGF(delta)
	lenBits := uint16(remaining * 8)
	var lenBlock [blockSize]byte
	lenBlock[blockSize-2] = byte(lenBits >> 8)
	lenBlock[blockSize-1] = byte(lenBits)
	tmp := xor16(padDelta, lenBlock)
	var pad [blockSize]byte
	block.Encrypt(pad[:], tmp[:])

	var finalCipher [blockSize]byte
	copy(finalCipher[:], src[off:off+remaining])

	finalPlain := xor16(pad, finalCipher)
	// Bytes beyond `remaining` in finalPlain are pad-derived padding, not
	// real plaintext; restore them to the pad value before checksumming
	// so both sides compute the identical checksum block.
	copy(finalPlain[remaining:], pad[remaining:])
	copy(dst[off:off+remaining], finalPlain[:remaining])
	checksum = xor16(checksum, finalPlain)

	tagDelta := tripleGF(padDelta)
	tagInput := xor16(tagDelta, checksum)
	var tag [blockSize]byte
	block.Encrypt(tag[:], tagInput[:])
	return tag
}
