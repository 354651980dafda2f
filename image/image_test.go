package image_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/codegen"
	"github.com/avwohl/zorkie-sub001/config"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/expand"
	"github.com/avwohl/zorkie-sub001/image"
	"github.com/avwohl/zorkie-sub001/layout"
	"github.com/avwohl/zorkie-sub001/semantic"
	"github.com/avwohl/zorkie-sub001/token"
)

func at(name string) *ast.Node { return ast.NewAtom(name, token.Position{}) }
func form(head string, items ...*ast.Node) *ast.Node {
	return ast.NewForm(at(head), items, token.Position{})
}

func buildSimpleProgram(t *testing.T) (*semantic.Program, *codegen.Output, *diag.Collector) {
	t.Helper()
	diags := &diag.Collector{}
	ex := &expand.Expander{
		Objects: []*expand.ObjectDecl{
			{Name: "ROOM-A", IsRoom: true},
			{Name: "ROOM-B", IsRoom: true},
			{Name: "COIN", Parent: "ROOM-A"},
		},
		Globals: []*expand.GlobalDecl{{Name: "SCORE", Init: ast.NewInt(0, token.Position{})}},
		Routines: []*expand.RoutineDecl{
			{Name: "GO", Body: []*ast.Node{form("TELL", ast.NewStr("Hello, world!", token.Position{}), at("CR"))}},
		},
		Grammar: []*expand.GrammarRule{
			{Verb: "TAKE", Slots: []*ast.Node{at("OBJECT")}, Action: "GO"},
		},
	}
	prog := semantic.Build(ex, diags)
	require.False(t, diags.HasErrors(), "%v", diags.Items())

	out := codegen.Generate(prog, diags)
	require.False(t, diags.HasErrors(), "%v", diags.Items())
	return prog, out, diags
}

func TestBuildHeaderVersionByte(t *testing.T) {
	prog, out, diags := buildSimpleProgram(t)
	cfg := config.DefaultConfig()

	data, err := image.Build(prog, out, cfg, diags)
	require.NoError(t, err)
	require.Equal(t, byte(cfg.Target.Version), data[0])
}

func TestGlobalsRegionIsExactly480Bytes(t *testing.T) {
	prog, out, diags := buildSimpleProgram(t)
	cfg := config.DefaultConfig()

	data, err := image.Build(prog, out, cfg, diags)
	require.NoError(t, err)

	globalsAddr := int(data[12])<<8 | int(data[13])
	objTableAddr := int(data[10])<<8 | int(data[11])
	require.Equal(t, 480, objTableAddr-globalsAddr)
}

func TestPropertyDefaultsAreExactly62Bytes(t *testing.T) {
	prog, out, diags := buildSimpleProgram(t)
	cfg := config.DefaultConfig()

	data, err := image.Build(prog, out, cfg, diags)
	require.NoError(t, err)

	objTableAddr := int(data[10])<<8 | int(data[11])
	for i := 0; i < 62; i++ {
		require.Zerof(t, data[objTableAddr+i], "property default byte %d should be zero", i)
	}
}

func TestChecksumMatchesSumFormula(t *testing.T) {
	prog, out, diags := buildSimpleProgram(t)
	cfg := config.DefaultConfig()

	data, err := image.Build(prog, out, cfg, diags)
	require.NoError(t, err)

	var sum uint32
	for _, b := range data[0x40:] {
		sum += uint32(b)
	}
	want := uint16(sum)
	got := uint16(data[28])<<8 | uint16(data[29])
	require.Equal(t, want, got)
}

func TestFileLengthFieldMatchesActualLength(t *testing.T) {
	prog, out, diags := buildSimpleProgram(t)
	cfg := config.DefaultConfig()

	data, err := image.Build(prog, out, cfg, diags)
	require.NoError(t, err)

	wordField := int(data[26])<<8 | int(data[27])
	require.Equal(t, len(data), wordField*2)
}

func TestObjectTreeLinksRoundtrip(t *testing.T) {
	prog, out, diags := buildSimpleProgram(t)
	cfg := config.DefaultConfig()

	data, err := image.Build(prog, out, cfg, diags)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	roomA := prog.Object("ROOM-A")
	coin := prog.Object("COIN")
	require.Equal(t, roomA.Number, coin.Parent)
	require.Equal(t, coin.Number, roomA.Child)
	require.Zero(t, coin.Sibling)
}

func TestDictionaryEntriesAreSortedAscending(t *testing.T) {
	prog, out, diags := buildSimpleProgram(t)
	cfg := config.DefaultConfig()

	data, err := image.Build(prog, out, cfg, diags)
	require.NoError(t, err)

	dictAddr := int(data[8])<<8 | int(data[9])
	sepCount := int(data[dictAddr])
	entryLen := int(data[dictAddr+1+sepCount])
	count := int(data[dictAddr+2+sepCount])<<8 | int(data[dictAddr+3+sepCount])
	base := dictAddr + 4 + sepCount

	var keys [][]byte
	for i := 0; i < count; i++ {
		off := base + i*entryLen
		keys = append(keys, data[off:off+4])
	}
	for i := 1; i < len(keys); i++ {
		require.LessOrEqual(t, string(keys[i-1]), string(keys[i]))
	}
}

// TestAttributeBitLandsInObjectEntry exercises the attribute-roundtrip
// scenario: an object carrying attribute TAKEBIT (assigned number 7, well
// within the first 32 directly-addressable attributes) has exactly one bit
// set across its whole 4-byte attribute field, at byte attr/8 bit 7-attr%8,
// matching what FSET/FSET? encode and decode in codegen.
func TestAttributeBitLandsInObjectEntry(t *testing.T) {
	diags := &diag.Collector{}
	ex := &expand.Expander{
		Objects: []*expand.ObjectDecl{
			{Name: "ROOM-A", IsRoom: true},
			{Name: "ROOM-B", IsRoom: true},
			{Name: "ROOM-C", IsRoom: true},
			{Name: "ROOM-D", IsRoom: true},
			{Name: "COIN", Parent: "ROOM-A", Props: []expand.PropertySpec{
				{Name: "FLAGS", Values: []*ast.Node{at("A0"), at("A1"), at("A2"), at("A3"), at("A4"), at("A5"), at("A6"), at("TAKEBIT")}},
			}},
		},
		Routines: []*expand.RoutineDecl{{Name: "GO"}},
	}
	prog := semantic.Build(ex, diags)
	require.False(t, diags.HasErrors(), "%v", diags.Items())

	attr, ok := prog.AttributeByName("TAKEBIT")
	require.True(t, ok)
	require.Equal(t, 7, attr.Number)

	out := codegen.Generate(prog, diags)
	require.False(t, diags.HasErrors())
	cfg := config.DefaultConfig()

	data, err := image.Build(prog, out, cfg, diags)
	require.NoError(t, err)

	objTableAddr := int(data[10])<<8 | int(data[11])
	coin := prog.Object("COIN")
	entryOff := objTableAddr + 62 + (coin.Number-1)*9
	attrBytes := data[entryOff : entryOff+4]

	wantByte, wantBit := attr.Number/8, 7-attr.Number%8
	for i, b := range attrBytes {
		if i == wantByte {
			require.Equal(t, byte(1<<uint(wantBit)), b, "attribute byte %d should have only bit %d set", i, wantBit)
		} else {
			require.Zerof(t, b, "attribute byte %d should be zero", i)
		}
	}
}

// TestOversizedRoutineReportsPackedAddressUnaligned builds a program whose
// first routine's raw code is padded far past the 16-bit packed-address
// range, pushing a second routine's packed address out of range, and
// checks that image.Build reports PackedAddressUnaligned rather than
// silently truncating the address.
func TestOversizedRoutineReportsPackedAddressUnaligned(t *testing.T) {
	prog, out, diags := buildSimpleProgram(t)

	// Pushing GO's own layout past the 16-bit packed-address range lets a
	// self-referential fixup inside GO's own code exercise the bound check
	// without needing a second, realistically-huge routine body.
	huge := &codegen.Routine{Name: "PADDING", Code: &layout.Buffer{Bytes: make([]byte, 0x20000)}}
	out.Routines = append([]*codegen.Routine{huge}, out.Routines...)

	var goRoutine *codegen.Routine
	for _, r := range out.Routines {
		if r.Name == "GO" {
			goRoutine = r
		}
	}
	require.NotNil(t, goRoutine)
	goRoutine.Code.Fixups = append(goRoutine.Code.Fixups,
		layout.Fixup{Offset: 0, Kind: layout.FixupPackedRoutine, Symbol: "GO"})

	cfg := config.DefaultConfig()
	_, err := image.Build(prog, out, cfg, diags)
	require.Error(t, err)
	require.True(t, diags.HasErrors())

	found := false
	for _, d := range diags.Items() {
		if d.Kind == diag.PackedAddressUnaligned {
			found = true
		}
	}
	require.True(t, found, "expected a PackedAddressUnaligned diagnostic, got %v", diags.Items())
}

func TestNoTwoObjectsShareAPropertyTableAddress(t *testing.T) {
	prog, out, diags := buildSimpleProgram(t)
	cfg := config.DefaultConfig()

	data, err := image.Build(prog, out, cfg, diags)
	require.NoError(t, err)

	objTableAddr := int(data[10])<<8 | int(data[11])
	seen := make(map[int]int) // property table address -> object number
	for _, o := range prog.Objects {
		entryOff := objTableAddr + 62 + (o.Number-1)*9
		propAddr := int(data[entryOff+7])<<8 | int(data[entryOff+8])
		if prevObj, ok := seen[propAddr]; ok {
			t.Fatalf("property table address %d shared by object %d and object %d", propAddr, prevObj, o.Number)
		}
		seen[propAddr] = o.Number
	}
}
