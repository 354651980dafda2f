// Package layout defines the shared forward-reference and section types
// used by both codegen and image, so that neither package has to import the
// other. Per spec §9: "represent the image during build as a byte buffer
// plus a list of (offset, kind, symbol) fixups."
package layout

// FixupKind identifies how a fixup's target address is encoded once it is
// resolved.
type FixupKind int

const (
	// FixupPackedRoutine writes a routine's packed address as a 2-byte word.
	FixupPackedRoutine FixupKind = iota
	// FixupPackedString writes an encoded string's packed address as a
	// 2-byte word.
	FixupPackedString
	// FixupByteAddress writes a plain (unpacked) byte address as a 2-byte
	// word, used for object/property/dictionary cross-references.
	FixupByteAddress
	// FixupObjectNumber writes a 1-byte object number.
	FixupObjectNumber
	// FixupBranchShort writes a 1-byte short-form branch offset.
	FixupBranchShort
	// FixupBranchLong writes a 2-byte long-form branch offset.
	FixupBranchLong
)

func (k FixupKind) String() string {
	switch k {
	case FixupPackedRoutine:
		return "PackedRoutine"
	case FixupPackedString:
		return "PackedString"
	case FixupByteAddress:
		return "ByteAddress"
	case FixupObjectNumber:
		return "ObjectNumber"
	case FixupBranchShort:
		return "BranchShort"
	case FixupBranchLong:
		return "BranchLong"
	}
	return "Unknown"
}

// Section names a contiguous region of the finished image, in final layout
// order (§6/§9).
type Section int

const (
	SectionHeader Section = iota
	SectionAbbreviations
	SectionGlobals
	SectionObjectTable
	SectionGrammar
	SectionDictionary
	SectionStaticMisc
	SectionCode
	SectionStrings
)

func (s Section) String() string {
	switch s {
	case SectionHeader:
		return "Header"
	case SectionAbbreviations:
		return "Abbreviations"
	case SectionGlobals:
		return "Globals"
	case SectionObjectTable:
		return "ObjectTable"
	case SectionGrammar:
		return "Grammar"
	case SectionDictionary:
		return "Dictionary"
	case SectionStaticMisc:
		return "StaticMisc"
	case SectionCode:
		return "Code"
	case SectionStrings:
		return "Strings"
	}
	return "Unknown"
}

// Fixup records one forward reference still awaiting resolution: byte Offset
// within Section needs a Kind-shaped address for the entity named Symbol
// (a routine, string pool entry, or object, depending on Kind).
type Fixup struct {
	Section Section
	Offset  int
	Kind    FixupKind
	Symbol  string
}

// Buffer is a growable byte buffer paired with its outstanding fixups,
// shared by every codegen routine body and by each image section writer.
type Buffer struct {
	Bytes  []byte
	Fixups []Fixup
}

// Len returns the current buffer length.
func (b *Buffer) Len() int { return len(b.Bytes) }

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(v byte) { b.Bytes = append(b.Bytes, v) }

// WriteWord appends a big-endian 16-bit word.
func (b *Buffer) WriteWord(v uint16) {
	b.Bytes = append(b.Bytes, byte(v>>8), byte(v&0xff))
}

// WriteBytes appends raw bytes.
func (b *Buffer) WriteBytes(bs []byte) { b.Bytes = append(b.Bytes, bs...) }

// AddFixup records a forward reference at the buffer's current end,
// reserving placeholder space of the appropriate width (1 byte for
// FixupObjectNumber/FixupBranchShort, 2 bytes otherwise).
func (b *Buffer) AddFixup(section Section, kind FixupKind, symbol string) {
	offset := len(b.Bytes)
	b.Fixups = append(b.Fixups, Fixup{Section: section, Offset: offset, Kind: kind, Symbol: symbol})
	switch kind {
	case FixupObjectNumber, FixupBranchShort:
		b.WriteByte(0)
	default:
		b.WriteWord(0)
	}
}
