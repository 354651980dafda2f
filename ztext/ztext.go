// Package ztext implements spec §4.F: encoding of printable text into the
// packed 5-bit alphabet used throughout the image, plus abbreviation
// selection and string deduplication.
package ztext

import (
	"sort"
	"strings"
)

// PadChar is used to fill the final z-char group short of a multiple of 3.
const PadChar = 5

const (
	shiftA1 = 4
	shiftA2 = 5
	escZSCII = 6
)

var alphabetA0 = []rune("abcdefghijklmnopqrstuvwxyz")
var alphabetA1 = []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZ")

// alphabetA2 holds the characters available at codes 8..31 of the third
// alphabet; code 6 is the ZSCII escape and code 7 is newline (handled
// specially in ToZChars).
var alphabetA2 = []rune("0123456789.,!?_#'\"/\\-:()")

func indexOf(set []rune, r rune) (int, bool) {
	for i, c := range set {
		if c == r {
			return i, true
		}
	}
	return 0, false
}

// ToZChars converts a string to its uncompressed sequence of 5-bit z-char
// codes (before padding/packing), applying alphabet shifts and the 10-bit
// ZSCII escape for characters outside all three alphabets.
func ToZChars(s string) []int {
	var out []int
	for _, r := range s {
		switch {
		case r == ' ':
			out = append(out, 0)
		case r == '\n':
			out = append(out, shiftA2, 7)
		default:
			if code, ok := indexOf(alphabetA0, r); ok {
				out = append(out, code+6)
				continue
			}
			if code, ok := indexOf(alphabetA1, r); ok {
				out = append(out, shiftA1, code+6)
				continue
			}
			if code, ok := indexOf(alphabetA2, r); ok {
				out = append(out, shiftA2, code+8)
				continue
			}
			v := int(r) & 0x3ff
			out = append(out, shiftA2, escZSCII, (v>>5)&0x1f, v&0x1f)
		}
	}
	return out
}

// Pack groups z-chars into 16-bit words, three per word, padding the final
// group with PadChar and setting the end-of-string bit on the last word.
func Pack(zchars []int) []uint16 {
	padded := append([]int(nil), zchars...)
	for len(padded)%3 != 0 {
		padded = append(padded, PadChar)
	}
	if len(padded) == 0 {
		padded = []int{PadChar, PadChar, PadChar}
	}
	words := make([]uint16, 0, len(padded)/3)
	for i := 0; i < len(padded); i += 3 {
		w := uint16(padded[i]&0x1f)<<10 | uint16(padded[i+1]&0x1f)<<5 | uint16(padded[i+2]&0x1f)
		words = append(words, w)
	}
	words[len(words)-1] |= 0x8000
	return words
}

// WordsToBytes serializes packed words big-endian, matching every other
// multi-byte field in the image (§6).
func WordsToBytes(words []uint16) []byte {
	out := make([]byte, 0, len(words)*2)
	for _, w := range words {
		out = append(out, byte(w>>8), byte(w&0xff))
	}
	return out
}

// Encode converts s directly to its final packed byte representation.
func Encode(s string) []byte {
	return WordsToBytes(Pack(ToZChars(s)))
}

// Unpack splits packed 16-bit words back into their three 5-bit z-chars
// each, the reverse of Pack's grouping (the end-of-string bit in bit 15 of
// the last word is not itself a z-char and is discarded here).
func Unpack(words []uint16) []int {
	out := make([]int, 0, len(words)*3)
	for _, w := range words {
		out = append(out, int((w>>10)&0x1f), int((w>>5)&0x1f), int(w&0x1f))
	}
	return out
}

// Decode reverses ToZChars/Pack for a string with no abbreviation
// references, walking the A0/A1/A2 shift-alphabet state machine and ZSCII
// escapes described in §4.F. Trailing PadChar z-chars left over from
// packing are themselves valid (if empty) A2 shifts and decode to nothing,
// so callers need not trim padding first.
func Decode(words []uint16) string {
	return DecodeWithAbbrevs(words, nil)
}

// DecodeWithAbbrevs is Decode, additionally expanding any abbreviation
// z-char pair (shift-set 1-3, index-within-set) against table - the reverse
// of EncodeWithAbbrevs. An abbreviation reference with no matching table
// entry contributes nothing to the decoded text.
func DecodeWithAbbrevs(words []uint16, table []Abbreviation) string {
	zchars := Unpack(words)
	var sb strings.Builder
	for i := 0; i < len(zchars); {
		c := zchars[i]
		switch {
		case c == 0:
			sb.WriteByte(' ')
			i++
		case c >= 1 && c <= 3:
			if i+1 >= len(zchars) {
				i++
				continue
			}
			if text, ok := abbrevText(table, (c-1)*32+zchars[i+1]); ok {
				sb.WriteString(text)
			}
			i += 2
		case c == shiftA1:
			if i+1 < len(zchars) {
				if idx := zchars[i+1] - 6; idx >= 0 && idx < len(alphabetA1) {
					sb.WriteRune(alphabetA1[idx])
				}
			}
			i += 2
		case c == shiftA2:
			if i+1 >= len(zchars) {
				i++
				continue
			}
			code := zchars[i+1]
			switch {
			case code == 7:
				sb.WriteByte('\n')
				i += 2
			case code == escZSCII:
				if i+3 < len(zchars) {
					v := (zchars[i+2]&0x1f)<<5 | (zchars[i+3] & 0x1f)
					sb.WriteRune(rune(v))
					i += 4
				} else {
					i += 2
				}
			default:
				if idx := code - 8; idx >= 0 && idx < len(alphabetA2) {
					sb.WriteRune(alphabetA2[idx])
				}
				i += 2
			}
		default:
			if idx := c - 6; idx >= 0 && idx < len(alphabetA0) {
				sb.WriteRune(alphabetA0[idx])
			}
			i++
		}
	}
	return sb.String()
}

func abbrevText(table []Abbreviation, index int) (string, bool) {
	for _, a := range table {
		if a.Index == index {
			return a.Text, true
		}
	}
	return "", false
}

// EncodedLen returns len(Encode(s)) without allocating the word slice twice;
// used heavily by abbreviation scoring.
func EncodedLen(s string) int {
	n := len(ToZChars(s))
	if n == 0 {
		return 2
	}
	if n%3 != 0 {
		n += 3 - n%3
	}
	return (n / 3) * 2
}

// Dedup returns the distinct strings in first-seen order, plus a map from
// string to its index in that slice. Two printable strings in the source
// that are textually identical occupy a single encoded slot (§4.F).
func Dedup(strings []string) ([]string, map[string]int) {
	index := make(map[string]int)
	var out []string
	for _, s := range strings {
		if _, ok := index[s]; ok {
			continue
		}
		index[s] = len(out)
		out = append(out, s)
	}
	return out, index
}

// Abbreviation is a selected shared substring with its assigned table slot.
type Abbreviation struct {
	Text  string
	Index int // 0..(MaxAbbreviations-1)
}

// MaxAbbreviations is the size of the abbreviation table (3 sets of 32).
const MaxAbbreviations = 96

const maxAbbrevLen = 12
const minAbbrevLen = 2

// SelectAbbreviations runs a greedy substring-frequency scan over the given
// strings and picks up to max candidates, scoring each by
// (occurrences-1)*(encoded_length-2): the bytes saved by replacing every
// occurrence but one with a single abbreviation z-char pair, minus the
// 2-byte overhead the abbreviation's own table entry costs nowhere else.
// This is a single-pass greedy choice, not a globally optimal cover: once a
// substring is selected its occurrences are not subtracted from overlapping
// candidates before scoring the rest.
func SelectAbbreviations(strings []string, max int) []Abbreviation {
	if max > MaxAbbreviations {
		max = MaxAbbreviations
	}
	counts := make(map[string]int)
	for _, s := range strings {
		n := len(s)
		for i := 0; i < n; i++ {
			upper := i + maxAbbrevLen
			if upper > n {
				upper = n
			}
			for j := i + minAbbrevLen; j <= upper; j++ {
				counts[s[i:j]]++
			}
		}
	}

	type candidate struct {
		text  string
		score int
	}
	var cands []candidate
	for text, occ := range counts {
		if occ < 2 {
			continue
		}
		score := (occ - 1) * (EncodedLen(text) - 2)
		if score > 0 {
			cands = append(cands, candidate{text, score})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].text < cands[j].text
	})

	if len(cands) > max {
		cands = cands[:max]
	}
	out := make([]Abbreviation, len(cands))
	for i, c := range cands {
		out[i] = Abbreviation{Text: c.text, Index: i}
	}
	return out
}

// EncodeWithAbbrevs packs s, substituting the two z-chars (shift-set,
// index-within-set) for every non-overlapping occurrence of an abbreviation
// from table, longest match first at each position.
func EncodeWithAbbrevs(s string, table []Abbreviation) []byte {
	return WordsToBytes(Pack(zcharsWithAbbrevs(s, table)))
}

func zcharsWithAbbrevs(s string, table []Abbreviation) []int {
	byLen := append([]Abbreviation(nil), table...)
	sort.Slice(byLen, func(i, j int) bool { return len(byLen[i].Text) > len(byLen[j].Text) })

	var out []int
	for i := 0; i < len(s); {
		matched := false
		for _, a := range byLen {
			l := len(a.Text)
			if l == 0 || i+l > len(s) {
				continue
			}
			if s[i:i+l] == a.Text {
				set := a.Index / 32
				pos := a.Index % 32
				out = append(out, 1+set, pos)
				i += l
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		out = append(out, ToZChars(s[i:i+runeByteLen(s, i)])...)
		i += runeByteLen(s, i)
	}
	return out
}

func runeByteLen(s string, i int) int {
	b := s[i]
	switch {
	case b < 0x80:
		return 1
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
