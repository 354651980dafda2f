package layout_test

import (
	"testing"

	"github.com/avwohl/zorkie-sub001/layout"
)

func TestBufferWriteByteAndWord(t *testing.T) {
	var b layout.Buffer
	b.WriteByte(0x01)
	b.WriteWord(0x1234)
	want := []byte{0x01, 0x12, 0x34}
	if string(b.Bytes) != string(want) {
		t.Errorf("Bytes = % x, want % x", b.Bytes, want)
	}
	if b.Len() != 3 {
		t.Errorf("Len() = %d, want 3", b.Len())
	}
}

func TestBufferWriteBytes(t *testing.T) {
	var b layout.Buffer
	b.WriteBytes([]byte{0xAA, 0xBB, 0xCC})
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
}

func TestAddFixupReservesOneByteForNarrowKinds(t *testing.T) {
	var b layout.Buffer
	b.WriteByte(0x00) // push the fixup off offset 0 so it's easy to check
	b.AddFixup(layout.SectionCode, layout.FixupObjectNumber, "ROOM-A")
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (1 preceding byte + 1 reserved byte)", b.Len())
	}
	if len(b.Fixups) != 1 {
		t.Fatalf("Fixups has %d entries, want 1", len(b.Fixups))
	}
	fx := b.Fixups[0]
	if fx.Offset != 1 || fx.Kind != layout.FixupObjectNumber || fx.Symbol != "ROOM-A" {
		t.Errorf("unexpected fixup: %+v", fx)
	}
}

func TestAddFixupReservesTwoBytesForWideKinds(t *testing.T) {
	var b layout.Buffer
	b.AddFixup(layout.SectionCode, layout.FixupPackedRoutine, "ADD")
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if b.Bytes[0] != 0 || b.Bytes[1] != 0 {
		t.Errorf("placeholder bytes should be zero, got % x", b.Bytes)
	}
}

func TestFixupKindString(t *testing.T) {
	cases := map[layout.FixupKind]string{
		layout.FixupPackedRoutine: "PackedRoutine",
		layout.FixupPackedString: "PackedString",
		layout.FixupByteAddress:  "ByteAddress",
		layout.FixupObjectNumber: "ObjectNumber",
		layout.FixupBranchShort:  "BranchShort",
		layout.FixupBranchLong:   "BranchLong",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}

func TestSectionString(t *testing.T) {
	if layout.SectionGrammar.String() != "Grammar" {
		t.Errorf("SectionGrammar.String() = %q, want Grammar", layout.SectionGrammar.String())
	}
	var unknown layout.Section = 999
	if unknown.String() != "Unknown" {
		t.Errorf("out-of-range Section.String() = %q, want Unknown", unknown.String())
	}
}
