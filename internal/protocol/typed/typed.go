package typed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxItemLen is the largest value a one-byte length prefix can describe.
const MaxItemLen = 255

// TupleHeaderLen is key(4) + kind(1) + length(2).
const TupleHeaderLen = 7

var (
	ErrItemTooLong   = errors.New("typed: item too long")
	ErrInvalidWidth  = errors.New("typed: invalid integer width")
	ErrUnknownKind   = errors.New("typed: unknown kind")
	ErrTooManyItems  = errors.New("typed: too many items")
	ErrShortTuple    = errors.New("typed: short tuple")
	ErrShortTupleVal = errors.New("typed: short tuple value")
)

// Kind values match the device's tuple type codes.
type Kind uint8

const (
	KindBytes  Kind = 0
	KindString Kind = 1
	KindUint   Kind = 2
	KindInt    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Item is one keyed, kind-tagged value. Integer kinds carry their wire width.
type Item struct {
	Key   uint32
	Kind  Kind
	Width int
	Bytes []byte
	Str   string
	Num   uint64
}

func String(key uint32, s string) Item {
	return Item{Key: key, Kind: KindString, Str: s}
}

func Bytes(key uint32, b []byte) Item {
	return Item{Key: key, Kind: KindBytes, Bytes: append([]byte(nil), b...)}
}

func Uint8(key uint32, v uint8) Item   { return Item{Key: key, Kind: KindUint, Width: 1, Num: uint64(v)} }
func Uint16(key uint32, v uint16) Item { return Item{Key: key, Kind: KindUint, Width: 2, Num: uint64(v)} }
func Uint32(key uint32, v uint32) Item { return Item{Key: key, Kind: KindUint, Width: 4, Num: uint64(v)} }
func Int8(key uint32, v int8) Item     { return Item{Key: key, Kind: KindInt, Width: 1, Num: uint64(int64(v))} }
func Int16(key uint32, v int16) Item   { return Item{Key: key, Kind: KindInt, Width: 2, Num: uint64(int64(v))} }
func Int32(key uint32, v int32) Item   { return Item{Key: key, Kind: KindInt, Width: 4, Num: uint64(int64(v))} }

// Uint returns the value truncated to the item's width.
func (it Item) Uint() uint64 {
	switch it.Width {
	case 1:
		return uint64(uint8(it.Num))
	case 2:
		return uint64(uint16(it.Num))
	case 4:
		return uint64(uint32(it.Num))
	default:
		return it.Num
	}
}

// Int returns the value sign-extended from the item's width.
func (it Item) Int() int64 {
	switch it.Width {
	case 1:
		return int64(int8(it.Num))
	case 2:
		return int64(int16(it.Num))
	case 4:
		return int64(int32(it.Num))
	default:
		return int64(it.Num)
	}
}

// Dict is an ordered item sequence; order is wire order.
type Dict []Item

func (d Dict) Get(key uint32) (Item, bool) {
	for _, it := range d {
		if it.Key == key {
			return it, true
		}
	}
	return Item{}, false
}

// Build encodes d in the device message layout: strings and bytes carry a
// one-byte length prefix (strings are NUL terminated and the prefix counts
// the NUL), integers are fixed width big-endian.
func (d Dict) Build() ([]byte, error) {
	out := make([]byte, 0, 16*len(d))
	for i, it := range d {
		var err error
		switch it.Kind {
		case KindString:
			if len(it.Str)+1 > MaxItemLen {
				return nil, fmt.Errorf("%w: item %d string %d bytes", ErrItemTooLong, i, len(it.Str))
			}
			out = append(out, byte(len(it.Str)+1))
			out = append(out, it.Str...)
			out = append(out, 0)
		case KindBytes:
			if len(it.Bytes) > MaxItemLen {
				return nil, fmt.Errorf("%w: item %d bytes %d", ErrItemTooLong, i, len(it.Bytes))
			}
			out = append(out, byte(len(it.Bytes)))
			out = append(out, it.Bytes...)
		case KindUint, KindInt:
			out, err = appendInt(out, binary.BigEndian, it.Width, it.Num)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("%w: item %d %s", ErrUnknownKind, i, it.Kind)
		}
	}
	return out, nil
}

// EncodeTuples encodes d in the app-message dictionary layout: a count byte,
// then key(u32 LE), kind(u8), length(u16 LE) and the value per item.
func (d Dict) EncodeTuples() ([]byte, error) {
	if len(d) > 0xFF {
		return nil, fmt.Errorf("%w: %d", ErrTooManyItems, len(d))
	}
	out := make([]byte, 0, 1+(TupleHeaderLen+8)*len(d))
	out = append(out, byte(len(d)))
	for i, it := range d {
		var val []byte
		var err error
		switch it.Kind {
		case KindString:
			val = append([]byte(it.Str), 0)
		case KindBytes:
			val = it.Bytes
		case KindUint, KindInt:
			val, err = appendInt(nil, binary.LittleEndian, it.Width, it.Num)
			if err != nil {
				return nil, fmt.Errorf("tuple %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("%w: tuple %d %s", ErrUnknownKind, i, it.Kind)
		}
		if len(val) > 0xFFFF {
			return nil, fmt.Errorf("%w: tuple %d value %d bytes", ErrItemTooLong, i, len(val))
		}
		out = binary.LittleEndian.AppendUint32(out, it.Key)
		out = append(out, byte(it.Kind))
		out = binary.LittleEndian.AppendUint16(out, uint16(len(val)))
		out = append(out, val...)
	}
	return out, nil
}

// DecodeTuples parses the app-message dictionary layout.
func DecodeTuples(b []byte) (Dict, error) {
	if len(b) < 1 {
		return nil, ErrShortTuple
	}
	count := int(b[0])
	d := make(Dict, 0, count)
	i := 1
	for n := 0; n < count; n++ {
		if len(b)-i < TupleHeaderLen {
			return nil, ErrShortTuple
		}
		key := binary.LittleEndian.Uint32(b[i : i+4])
		kind := Kind(b[i+4])
		l := int(binary.LittleEndian.Uint16(b[i+5 : i+7]))
		i += TupleHeaderLen
		if len(b)-i < l {
			return nil, ErrShortTupleVal
		}
		val := b[i : i+l]
		i += l

		it := Item{Key: key, Kind: kind}
		switch kind {
		case KindString:
			end := len(val)
			for end > 0 && val[end-1] == 0 {
				end--
			}
			it.Str = string(val[:end])
		case KindBytes:
			it.Bytes = append([]byte(nil), val...)
		case KindUint, KindInt:
			num, err := readInt(binary.LittleEndian, val)
			if err != nil {
				return nil, fmt.Errorf("tuple key %d: %w", key, err)
			}
			it.Width = l
			it.Num = num
			if kind == KindInt {
				it.Num = uint64(it.Int())
			}
		default:
			return nil, fmt.Errorf("%w: tuple key %d %s", ErrUnknownKind, key, kind)
		}
		d = append(d, it)
	}
	return d, nil
}

// Clip truncates s to at most n bytes without splitting a rune.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func appendInt(out []byte, order binary.AppendByteOrder, width int, v uint64) ([]byte, error) {
	switch width {
	case 1:
		return append(out, byte(v)), nil
	case 2:
		return order.AppendUint16(out, uint16(v)), nil
	case 4:
		return order.AppendUint32(out, uint32(v)), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}
}

func readInt(order binary.ByteOrder, b []byte) (uint64, error) {
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(order.Uint16(b)), nil
	case 4:
		return uint64(order.Uint32(b)), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidWidth, len(b))
	}
}
