package cryptstate

import (
	"bytes"
	"testing"
)

func newPair(t *testing.T) (*CryptState, *CryptState) {
	t.Helper()
	sender := New()
	if err := sender.GenerateKey(); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	receiver := New()
	if err := receiver.SetKey(sender.RawKey, sender.DecryptIV, sender.EncryptIV); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	return sender, receiver
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sender, receiver := newPair(t)

	plaintexts := [][]byte{
		{},
		{0x01},
		bytes.Repeat([]byte{0xAB}, 15),
		bytes.Repeat([]byte{0xCD}, 16),
		bytes.Repeat([]byte{0xEF}, 17),
		bytes.Repeat([]byte{0x42}, 100),
	}

	for _, p := range plaintexts {
		ct, err := sender.Encrypt(p)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if len(ct) != len(p)+sender.Overhead() {
			t.Fatalf("ciphertext length %d != %d", len(ct), len(p)+sender.Overhead())
		}
		res, err := receiver.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !res.Valid {
			t.Fatalf("decrypt not valid for plaintext %v", p)
		}
		if !bytes.Equal(res.Plaintext, p) {
			t.Fatalf("roundtrip mismatch: got %v want %v", res.Plaintext, p)
		}
	}
}

func TestReplayRejected(t *testing.T) {
	sender, receiver := newPair(t)

	ct, err := sender.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := receiver.Decrypt(ct)
	if err != nil || !res.Valid {
		t.Fatalf("first decrypt should succeed: %v %v", res, err)
	}
	res, err = receiver.Decrypt(ct)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatalf("replayed packet should be rejected")
	}
}

func TestOutOfOrderWithinWindow(t *testing.T) {
	sender, receiver := newPair(t)

	pktA, _ := sender.Encrypt([]byte("a")) // IV+1
	pktB, _ := sender.Encrypt([]byte("b")) // IV+2

	// Deliver B first (jump ahead), then A (late, within window).
	resB, err := receiver.Decrypt(pktB)
	if err != nil || !resB.Valid {
		t.Fatalf("decrypt B should succeed: %v %v", resB, err)
	}
	if resB.Lost != 1 {
		t.Fatalf("expected 1 lost packet counted, got %d", resB.Lost)
	}

	ivBeforeLate := receiver.DecryptIV

	resA, err := receiver.Decrypt(pktA)
	if err != nil || !resA.Valid {
		t.Fatalf("decrypt A (late) should succeed: %v %v", resA, err)
	}
	if resA.Late != 1 {
		t.Fatalf("expected late==1, got %d", resA.Late)
	}

	if receiver.DecryptIV != ivBeforeLate {
		t.Fatalf("IV should be restored after processing a late packet")
	}
}

func TestTamperDetected(t *testing.T) {
	sender, receiver := newPair(t)

	ct, err := sender.Encrypt([]byte("voice-frame-data"))
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i < len(ct); i++ {
		tampered := append([]byte(nil), ct...)
		tampered[i] ^= 0x01

		ivBefore := receiver.DecryptIV
		res, err := receiver.Decrypt(tampered)
		if err != nil {
			t.Fatal(err)
		}
		if res.Valid {
			t.Fatalf("tampering at byte %d should invalidate the packet", i)
		}
		if receiver.DecryptIV != ivBefore {
			t.Fatalf("IV must not advance on a rejected packet")
		}
	}
}

func TestStatsAccumulate(t *testing.T) {
	sender, receiver := newPair(t)

	for i := 0; i < 5; i++ {
		ct, _ := sender.Encrypt([]byte{byte(i)})
		res, err := receiver.Decrypt(ct)
		if err != nil || !res.Valid {
			t.Fatalf("decrypt %d failed: %v %v", i, res, err)
		}
	}

	stats := receiver.Stats()
	if stats.Good != 5 {
		t.Fatalf("expected 5 good packets, got %d", stats.Good)
	}
}
