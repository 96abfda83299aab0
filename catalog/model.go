package catalog

import (
	"strings"
	"unicode"
)

type Console string

const (
	ConsolePS1 Console = "PS1"
	ConsolePS2 Console = "PS2"
	ConsolePSP Console = "PSP"

	// ConsoleNA is the sentinel carried by aggregate rows, which do not
	// represent a physical disc.
	ConsoleNA Console = "NA"
)

func (c Console) Valid() bool {
	switch c {
	case ConsolePS1, ConsolePS2, ConsolePSP, ConsoleNA:
		return true
	}
	return false
}

type Region string

const (
	RegionPAL   Region = "PAL"
	RegionNTSC  Region = "NTSC"
	RegionNTSCJ Region = "NTSCJ"
	RegionNA    Region = "NA"
)

func (r Region) Valid() bool {
	switch r {
	case RegionPAL, RegionNTSC, RegionNTSCJ, RegionNA:
		return true
	}
	return false
}

// regionAliases maps the spellings found in import files to canonical
// regions. NTSC-U discs are catalogued as NTSC.
var regionAliases = map[string]Region{
	"pal":   RegionPAL,
	"ntsc":  RegionNTSC,
	"ntscu": RegionNTSC,
	"ntscj": RegionNTSCJ,
}

// ParseRegion resolves a region string from user or import input, accepting
// the alias spellings.
func ParseRegion(s string) (Region, bool) {
	r, ok := regionAliases[strings.ToLower(strings.TrimSpace(s))]
	return r, ok
}

type Kind string

const (
	KindLeaf      Kind = "leaf"
	KindAggregate Kind = "aggregate"
)

// AggregateSuffix marks synthetic group rows at the storage level. The
// in-memory model carries an explicit Kind, the suffix remains the id
// convention so existing rows stay queryable.
const AggregateSuffix = "_agg"

type Game struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Console        Console `json:"console"`
	Region         Region  `json:"region"`
	ParentID       *string `json:"parentId,omitempty"`
	AdditionalInfo *string `json:"additionalInfo,omitempty"`
}

func (g Game) Kind() Kind {
	if strings.HasSuffix(g.ID, AggregateSuffix) {
		return KindAggregate
	}
	return KindLeaf
}

func (g Game) IsAggregate() bool {
	return g.Kind() == KindAggregate
}

// IsSafeID reports whether an id follows the two-part code convention:
// exactly one separator, alphabetic leading rune. Aggregate ids are exempt,
// they are derived from their first member.
func IsSafeID(id string) bool {
	if strings.HasSuffix(id, AggregateSuffix) {
		return true
	}
	parts := strings.Split(id, "-")
	if len(parts) != 2 {
		return false
	}
	first := []rune(id)
	return len(first) > 0 && unicode.IsLetter(first[0])
}
