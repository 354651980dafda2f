// Package image implements spec §4.H: section placement, fixup resolution,
// header and checksum emission, and the atomic write of the finished story
// file.
package image

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/codegen"
	"github.com/avwohl/zorkie-sub001/config"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/layout"
	"github.com/avwohl/zorkie-sub001/semantic"
	"github.com/avwohl/zorkie-sub001/token"
	"github.com/avwohl/zorkie-sub001/ztext"
)

// maxPackedAddr is the largest value a version-3-style packed address
// (byte_addr/2) can hold in its 16-bit field (§7.3).
const maxPackedAddr = 0xFFFF

const (
	headerSize       = 64
	abbrevTableSize  = ztext.MaxAbbreviations * 2
	globalsSize      = 480 // §3: exactly 240 entries
	propDefaultsSize = 62  // §3: 31 words
	objectEntrySize  = 9
	dictEntryLen     = 6 // 4-byte key + 1 flags byte + 1 verb-index byte
)

var dictSeparators = []byte{'.', ',', '"'}

// Build lays out a complete story file for prog/gen and returns its bytes.
// diags receives a PackedAddressUnaligned diagnostic (in addition to the
// returned error) if any routine, string or abbreviation ends up at a byte
// offset that can't be expressed as a packed address (§7.3).
func Build(prog *semantic.Program, gen *codegen.Output, cfg *config.Config, diags *diag.Collector) ([]byte, error) {
	b := &builder{prog: prog, gen: gen, cfg: cfg, diags: diags}
	return b.build()
}

// WriteFile builds the image and writes it atomically: to a temp file in
// the same directory, then renamed into place, so a failed or interrupted
// write never leaves a partial story file at path (§7).
func WriteFile(path string, prog *semantic.Program, gen *codegen.Output, cfg *config.Config, diags *diag.Collector) error {
	data, err := Build(prog, gen, cfg, diags)
	if err != nil {
		return errors.Wrap(err, "building image")
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".zilc-image-*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "writing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "renaming temp file into place")
	}
	return nil
}

type builder struct {
	prog  *semantic.Program
	gen   *codegen.Output
	cfg   *config.Config
	diags *diag.Collector

	stringSymbols []string // placement order: pool strings then abbreviation texts
	stringBytes   map[string][]byte
	stringOffset  map[string]int

	abbrevs []ztext.Abbreviation

	routineOffset map[string]int
	objPropAddr   map[string]int // object name -> property table offset from the object table start

	globalsAddr     int
	objectTableAddr int
	grammarAddr     int
	dictAddr        int
	staticBase      int
	highBase        int
	fileEnd         int

	objectTableBytes []byte
	grammarBytes     []byte
	dictBytes        []byte
}

func (b *builder) build() ([]byte, error) {
	b.selectAbbreviations()
	b.encodeStrings()

	b.layoutObjectTable()
	b.layoutGrammar()
	b.layoutDictionary()

	cursor := headerSize
	cursor += abbrevTableSize
	b.globalsAddr = cursor
	cursor += globalsSize
	b.objectTableAddr = cursor
	cursor += len(b.objectTableBytes)
	b.grammarAddr = cursor
	cursor += len(b.grammarBytes)
	b.dictAddr = cursor
	cursor += len(b.dictBytes)
	if cursor%2 != 0 {
		cursor++
	}
	b.staticBase = cursor
	b.highBase = cursor

	b.layoutHighMemory()

	out := make([]byte, b.fileEnd)
	b.writeGlobals(out)
	copy(out[b.objectTableAddr:], b.objectTableBytes)
	// rebase each entry's property table address to an absolute byte address
	for i, o := range b.prog.Objects {
		off := b.objectTableAddr + propDefaultsSize + i*objectEntrySize + 7
		binWriteWord(out, off, uint16(b.objectTableAddr+b.objPropAddr[o.Name]))
	}
	copy(out[b.grammarAddr:], b.grammarBytes)
	copy(out[b.dictAddr:], b.dictBytes)
	if err := b.writeHighMemory(out); err != nil {
		return nil, err
	}
	if err := b.writeAbbrevTable(out); err != nil {
		return nil, err
	}
	b.writeHeader(out)

	if len(out)%2 != 0 {
		out = append(out, 0)
	}
	binWriteWord(out, 26, uint16(len(out)/2))
	binWriteWord(out, 28, checksum(out))

	return out, nil
}

func binWriteWord(buf []byte, off int, v uint16) {
	buf[off] = byte(v >> 8)
	buf[off+1] = byte(v)
}

// checksum sums every byte from offset 0x40 (just past the header) to the
// end, modulo 2^16 (§6/§8).
func checksum(data []byte) uint16 {
	var sum uint32
	for _, b := range data[headerSize:] {
		sum += uint32(b)
	}
	return uint16(sum)
}

// --- abbreviations & strings -----------------------------------------------

func (b *builder) selectAbbreviations() {
	if !b.cfg.Target.Dedup {
		return
	}
	var texts []string
	texts = append(texts, b.gen.Strings.Strings()...)
	for _, o := range b.prog.Objects {
		for _, prop := range o.Props {
			for _, v := range prop.Values {
				if v.Kind == ast.Str {
					texts = append(texts, v.StrVal)
				}
			}
		}
	}
	b.abbrevs = ztext.SelectAbbreviations(texts, b.cfg.Target.Abbrevs)
}

func (b *builder) abbrevSymbol(i int) string { return "ABBR$" + strconv.Itoa(i) }

// encodeStrings assigns final encoded bytes to every pooled string symbol
// (object property string values are folded into the codegen pool first, so
// they share its dedup and packed-address symbol) plus one entry per
// selected abbreviation's own text, encoded without further abbreviation
// substitution to avoid a self reference.
func (b *builder) encodeStrings() {
	b.stringBytes = make(map[string][]byte)

	for _, o := range b.prog.Objects {
		for _, prop := range o.Props {
			for _, v := range prop.Values {
				if v.Kind == ast.Str {
					b.gen.Strings.Intern(v.StrVal)
				}
			}
		}
	}

	for i, s := range b.gen.Strings.Strings() {
		sym := "STR$" + strconv.Itoa(i)
		b.stringSymbols = append(b.stringSymbols, sym)
		b.stringBytes[sym] = ztext.EncodeWithAbbrevs(s, b.abbrevs)
	}
	for i, a := range b.abbrevs {
		sym := b.abbrevSymbol(i)
		b.stringSymbols = append(b.stringSymbols, sym)
		b.stringBytes[sym] = ztext.Encode(a.Text)
	}
}

func (b *builder) stringSymbolFor(text string) string {
	for i, s := range b.gen.Strings.Strings() {
		if s == text {
			return "STR$" + strconv.Itoa(i)
		}
	}
	return ""
}

// --- object table ------------------------------------------------------

func (b *builder) layoutObjectTable() {
	b.objPropAddr = make(map[string]int)

	var entries []byte
	var blobs []byte
	entriesSize := objectEntrySize * len(b.prog.Objects)
	blobBase := propDefaultsSize + entriesSize

	for _, o := range b.prog.Objects {
		b.objPropAddr[o.Name] = blobBase + len(blobs)

		var attrBytes [4]byte
		for n := range o.Attrs {
			if n < 0 || n >= 32 {
				continue
			}
			attrBytes[n/8] |= 1 << uint(7-n%8)
		}
		entries = append(entries, attrBytes[:]...)
		entries = append(entries, byte(o.Parent), byte(o.Sibling), byte(o.Child))
		entries = append(entries, 0, 0) // property table address, patched below

		blobs = append(blobs, 0) // no short name
		for _, prop := range o.Props {
			size := 2 * len(prop.Values)
			if size == 0 {
				size = 2
			}
			blobs = append(blobs, byte(size-1)<<5|byte(prop.Number))
			if len(prop.Values) == 0 {
				blobs = append(blobs, 0, 0)
				continue
			}
			for _, v := range prop.Values {
				blobs = append(blobs, b.propertyValueWord(v)...)
			}
		}
		blobs = append(blobs, 0) // terminator
	}

	// patch each entry's property table address now that blob offsets
	// (relative to the object table start) are all known.
	for i, o := range b.prog.Objects {
		addr := b.objPropAddr[o.Name]
		off := i*objectEntrySize + 7
		entries[off] = byte(addr >> 8)
		entries[off+1] = byte(addr)
	}

	table := make([]byte, propDefaultsSize)
	table = append(table, entries...)
	table = append(table, blobs...)
	b.objectTableBytes = table
}

// propertyValueWord lowers a property value to its 2-byte table
// representation: object numbers, attribute numbers and integers are stored
// directly; a string literal's packed address is filled in later by
// patchPropertyStrings, once every string's final placement is known.
func (b *builder) propertyValueWord(v *ast.Node) []byte {
	switch v.Kind {
	case ast.Int:
		return []byte{byte(v.IntVal >> 8), byte(v.IntVal)}
	case ast.Atom:
		if obj := b.prog.Object(v.AtomName); obj != nil {
			return []byte{byte(obj.Number >> 8), byte(obj.Number)}
		}
		if n, ok := b.prog.AttributeNumber(v.AtomName); ok {
			return []byte{byte(n >> 8), byte(n)}
		}
		return []byte{0, 0}
	default:
		return []byte{0, 0}
	}
}

// --- grammar & dictionary ------------------------------------------------

func (b *builder) layoutGrammar() {
	var out []byte
	out = append(out, byte(len(b.prog.Grammar)))
	for _, entry := range b.prog.Grammar {
		out = append(out, byte(len(entry.Rules)))
		for _, rule := range entry.Rules {
			out = append(out, byte(len(rule.Slots)))
			for _, slot := range rule.Slots {
				switch {
				case slot.Kind == ast.Atom && slot.AtomName == "OBJECT":
					out = append(out, 0xFF)
				case slot.Kind == ast.Atom:
					out = append(out, b.dictIndexByte(slot.AtomName))
				default:
					out = append(out, 0)
				}
			}
			out = append(out, 0, 0) // action routine packed address, patched later
		}
	}
	b.grammarBytes = out
}

func (b *builder) dictIndexByte(word string) byte {
	key := strings.ToUpper(truncate6(word))
	for i, w := range b.prog.Dictionary {
		if w.Text == key {
			return byte(i + 1)
		}
	}
	return 0
}

func truncate6(s string) string {
	if len(s) <= 6 {
		return s
	}
	return s[:6]
}

func (b *builder) layoutDictionary() {
	type entry struct {
		key   []byte
		flags byte
		verb  byte
	}
	entries := make([]entry, 0, len(b.prog.Dictionary))
	for _, w := range b.prog.Dictionary {
		flags := byte(0)
		verb := byte(0)
		if w.IsVerb {
			flags |= 1
			verb = byte(w.VerbIndex + 1)
		}
		entries = append(entries, entry{key: dictKey(w.Text), flags: flags, verb: verb})
	}
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].key) < string(entries[j].key)
	})

	out := []byte{byte(len(dictSeparators))}
	out = append(out, dictSeparators...)
	out = append(out, byte(dictEntryLen))
	n := len(entries)
	out = append(out, byte(n>>8), byte(n))
	for _, e := range entries {
		out = append(out, e.key...)
		out = append(out, e.flags, e.verb)
	}
	b.dictBytes = out
}

// dictKey encodes word to its canonical 4-byte dictionary key, padding or
// truncating to exactly 6 z-characters so every key packs to exactly two
// words regardless of the source word's length (§3 "Dictionary entry").
func dictKey(word string) []byte {
	z := ztext.ToZChars(strings.ToLower(word))
	for len(z) < 6 {
		z = append(z, ztext.PadChar)
	}
	if len(z) > 6 {
		z = z[:6]
	}
	return ztext.WordsToBytes(ztext.Pack(z))
}

// --- globals -------------------------------------------------------------

func (b *builder) writeGlobals(out []byte) {
	for _, g := range b.prog.Globals {
		off := b.globalsAddr + (g.Number-16)*2
		v := evalConstInt(g.Init)
		out[off] = byte(v >> 8)
		out[off+1] = byte(v)
	}
}

func evalConstInt(n *ast.Node) int64 {
	if n != nil && n.Kind == ast.Int {
		return n.IntVal
	}
	return 0
}

// --- abbreviation table ----------------------------------------------------

func (b *builder) writeAbbrevTable(out []byte) error {
	for i := range b.abbrevs {
		sym := b.abbrevSymbol(i)
		addr := b.stringOffset[sym]
		packed, err := b.checkPackedAddress(addr, "abbreviation "+sym)
		if err != nil {
			return err
		}
		off := headerSize + i*2
		out[off] = byte(packed >> 8)
		out[off+1] = byte(packed)
	}
	return nil
}

// checkPackedAddress validates that the byte offset addr can be expressed
// as a version-3-style packed address (addr/2, stored in a 16-bit field):
// addr must be even, and addr/2 must fit in 16 bits. what names the symbol
// being packed, for the diagnostic and wrapped error (§7.3: an
// out-of-range packed address is fatal).
func (b *builder) checkPackedAddress(addr int, what string) (uint16, error) {
	if addr%2 != 0 {
		if b.diags != nil {
			b.diags.Add(diag.PackedAddressUnaligned, token.Position{}, "packed address for %s is not word-aligned: byte offset %d", what, addr)
		}
		return 0, errors.Errorf("packed address for %s is not word-aligned: byte offset %d", what, addr)
	}
	packed := addr / 2
	if packed > maxPackedAddr {
		if b.diags != nil {
			b.diags.Add(diag.PackedAddressUnaligned, token.Position{}, "packed address for %s exceeds the 16-bit packed range: byte offset %d", what, addr)
		}
		return 0, errors.Errorf("packed address for %s exceeds the 16-bit packed range: byte offset %d", what, addr)
	}
	return uint16(packed), nil
}

// --- high memory: routines then strings -----------------------------------

func (b *builder) layoutHighMemory() {
	b.routineOffset = make(map[string]int)
	b.stringOffset = make(map[string]int)

	cursor := b.highBase
	for _, r := range b.gen.Routines {
		if cursor%2 != 0 {
			cursor++
		}
		b.routineOffset[r.Name] = cursor
		cursor += len(r.Code.Bytes)
	}
	for _, sym := range b.stringSymbols {
		if cursor%2 != 0 {
			cursor++
		}
		b.stringOffset[sym] = cursor
		cursor += len(b.stringBytes[sym])
	}
	b.fileEnd = cursor
}

func (b *builder) writeHighMemory(out []byte) error {
	for _, r := range b.gen.Routines {
		base := b.routineOffset[r.Name]
		copy(out[base:], r.Code.Bytes)
		for _, fx := range r.Code.Fixups {
			if err := b.patchFixup(out, base+fx.Offset, fx); err != nil {
				return errors.Wrapf(err, "routine %s", r.Name)
			}
		}
	}
	for _, sym := range b.stringSymbols {
		copy(out[b.stringOffset[sym]:], b.stringBytes[sym])
	}
	if err := b.patchPropertyStrings(out); err != nil {
		return err
	}
	if err := b.patchGrammarActions(out); err != nil {
		return err
	}
	return nil
}

func (b *builder) patchFixup(out []byte, offset int, fx layout.Fixup) error {
	switch fx.Kind {
	case layout.FixupPackedRoutine:
		addr, ok := b.routineOffset[fx.Symbol]
		if !ok {
			return errors.Errorf("undefined routine %s", fx.Symbol)
		}
		packed, err := b.checkPackedAddress(addr, "routine "+fx.Symbol)
		if err != nil {
			return err
		}
		binWriteWord(out, offset, packed)
	case layout.FixupPackedString:
		addr, ok := b.stringOffset[fx.Symbol]
		if !ok {
			return errors.Errorf("undefined string %s", fx.Symbol)
		}
		packed, err := b.checkPackedAddress(addr, "string "+fx.Symbol)
		if err != nil {
			return err
		}
		binWriteWord(out, offset, packed)
	case layout.FixupByteAddress:
		addr, ok := b.routineOffset[fx.Symbol]
		if !ok {
			addr = b.stringOffset[fx.Symbol]
		}
		binWriteWord(out, offset, uint16(addr))
	default:
		return errors.Errorf("unsupported fixup kind %s for %s", fx.Kind, fx.Symbol)
	}
	return nil
}

// patchPropertyStrings walks the object table's property blobs a second
// time, in the exact order layoutObjectTable wrote them, to fill in the
// packed address of every string-valued property now that every string's
// final placement is known.
func (b *builder) patchPropertyStrings(out []byte) error {
	cursor := propDefaultsSize + objectEntrySize*len(b.prog.Objects)
	for _, o := range b.prog.Objects {
		cursor++ // short name length byte
		for _, prop := range o.Props {
			cursor++ // size/number header byte
			if len(prop.Values) == 0 {
				cursor += 2
				continue
			}
			for _, v := range prop.Values {
				if v.Kind == ast.Str {
					if sym := b.stringSymbolFor(v.StrVal); sym != "" {
						addr := b.stringOffset[sym]
						packed, err := b.checkPackedAddress(addr, "property string "+sym)
						if err != nil {
							return err
						}
						binWriteWord(out, b.objectTableAddr+cursor, packed)
					}
				}
				cursor += 2
			}
		}
		cursor++ // terminator
	}
	return nil
}

func (b *builder) patchGrammarActions(out []byte) error {
	cursor := b.grammarAddr + 1
	for _, entry := range b.prog.Grammar {
		cursor++ // rule count byte
		for _, rule := range entry.Rules {
			cursor++ // slot count byte
			cursor += len(rule.Slots)
			if addr, ok := b.routineOffset[strings.ToUpper(rule.Action)]; ok {
				packed, err := b.checkPackedAddress(addr, "grammar action "+rule.Action)
				if err != nil {
					return err
				}
				binWriteWord(out, cursor, packed)
			}
			cursor += 2
		}
	}
	return nil
}

// --- header ----------------------------------------------------------------

func (b *builder) writeHeader(out []byte) {
	out[0] = byte(b.cfg.Target.Version)
	out[1] = 0 // flags1

	entry := b.entryRoutineName()
	pc := b.routineOffset[entry]
	numLocals := 0
	for _, r := range b.gen.Routines {
		if r.Name == entry {
			numLocals = r.NumLocals
			break
		}
	}
	initialPC := pc + 1 + 2*numLocals

	binWriteWord(out, 2, 1) // release
	binWriteWord(out, 4, uint16(b.highBase))
	binWriteWord(out, 6, uint16(initialPC))
	binWriteWord(out, 8, uint16(b.dictAddr))
	binWriteWord(out, 10, uint16(b.objectTableAddr))
	binWriteWord(out, 12, uint16(b.globalsAddr))
	binWriteWord(out, 14, uint16(b.staticBase))
	binWriteWord(out, 16, 0) // flags2

	serial := time.Now().Format("060102")
	copy(out[18:24], serial)

	binWriteWord(out, 24, headerSize) // abbreviations table starts right after the header
}

func (b *builder) entryRoutineName() string {
	for _, r := range b.prog.Routines {
		if r.Name == "GO" {
			return "GO"
		}
	}
	if len(b.prog.Routines) > 0 {
		return b.prog.Routines[0].Name
	}
	return ""
}
