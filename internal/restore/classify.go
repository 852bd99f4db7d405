package restore

import (
	"sort"
	"strconv"
	"strings"
)

// DefaultIndexTag names the directory container (pak01_dir.vpk)
const DefaultIndexTag = "dir"

// Kind tags a classified container name
type Kind int

const (
	KindData Kind = iota
	KindIndex
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Part is a container name classified for ordering. Seq is meaningful for
// KindData only.
type Part struct {
	Name string
	Kind Kind
	Seq  int
}

// Classify tags a container name. The text after the last underscore (or the
// whole name when there is none), up to its first dot, decides: indexTag
// yields KindIndex, a decimal number yields KindData, anything else
// KindUnknown. Dots before the last underscore are part of the prefix.
//
//	pak01_007.vpk    -> data(7)
//	pak01_dir.vpk    -> index
//	pak01.v2_003.vpk -> data(3)
//	data_2           -> data(2)
//	dir              -> index
func Classify(name, indexTag string) Part {
	token := name
	if i := strings.LastIndexByte(name, '_'); i >= 0 {
		token = name[i+1:]
	}
	token, _, _ = strings.Cut(token, ".")

	if indexTag != "" && strings.EqualFold(token, indexTag) {
		return Part{Name: name, Kind: KindIndex}
	}
	if token != "" && strings.Trim(token, "0123456789") == "" {
		if seq, err := strconv.Atoi(token); err == nil {
			return Part{Name: name, Kind: KindData, Seq: seq}
		}
	}
	return Part{Name: name, Kind: KindUnknown}
}

// Order sorts parts in place: data parts by ascending sequence, then index
// and unknown parts in their original (discovery) order.
func Order(parts []Part) {
	sort.SliceStable(parts, func(i, j int) bool {
		a, b := parts[i], parts[j]
		aData, bData := a.Kind == KindData, b.Kind == KindData
		switch {
		case aData && bData:
			return a.Seq < b.Seq
		case aData != bData:
			return aData
		default:
			return false
		}
	})
}
