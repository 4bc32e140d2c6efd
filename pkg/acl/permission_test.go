package acl

import "testing"

func TestHasWriteImpliesMostPermissions(t *testing.T) {
	if !Has(Write, Move) {
		t.Fatal("Write should imply Move")
	}
	if !Has(Write, MakeChannel) {
		t.Fatal("Write should imply MakeChannel")
	}
}

func TestHasWriteDoesNotImplySpeakOrWhisper(t *testing.T) {
	if Has(Write, Speak) {
		t.Fatal("Write must not imply Speak")
	}
	if Has(Write, Whisper) {
		t.Fatal("Write must not imply Whisper")
	}
}

func TestStripRootOnly(t *testing.T) {
	got := StripRootOnly(AllPermissions)
	if got != AllSubPermissions {
		t.Fatalf("got %b want %b", got, AllSubPermissions)
	}
	if got&Kick != 0 || got&Ban != 0 {
		t.Fatal("root-only bits survived strip")
	}
}

func TestEntryAppliesTo(t *testing.T) {
	e := Entry{ChannelID: 1, ApplyHere: true, ApplySubs: false}
	if !e.AppliesTo(1, 1) {
		t.Fatal("expected applies at declaring channel")
	}
	if e.AppliesTo(1, 2) {
		t.Fatal("expected not to apply to subchannel when ApplySubs is false")
	}
}
