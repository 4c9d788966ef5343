package api

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/danmuck/watchlink/internal/protocol/typed"
)

// DictItem is the JSON form of one app-message entry. Type is one of
// string, bytes, uint or int; Width defaults to 4 for integers. Bytes
// values are base64 strings.
type DictItem struct {
	Key   uint32          `json:"key"`
	Type  string          `json:"type"`
	Width int             `json:"width,omitempty"`
	Value json.RawMessage `json:"value"`
}

func DecodeDict(items []DictItem) (typed.Dict, error) {
	d := make(typed.Dict, 0, len(items))
	for i, in := range items {
		it, err := decodeItem(in)
		if err != nil {
			return nil, fmt.Errorf("item %d key=%d: %w", i, in.Key, err)
		}
		d = append(d, it)
	}
	return d, nil
}

func decodeItem(in DictItem) (typed.Item, error) {
	switch in.Type {
	case "string":
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return typed.Item{}, err
		}
		return typed.String(in.Key, s), nil
	case "bytes":
		var b []byte
		if err := json.Unmarshal(in.Value, &b); err != nil {
			return typed.Item{}, err
		}
		return typed.Bytes(in.Key, b), nil
	case "uint":
		var v uint64
		if err := json.Unmarshal(in.Value, &v); err != nil {
			return typed.Item{}, err
		}
		return uintItem(in.Key, widthOrDefault(in.Width), v)
	case "int":
		var v int64
		if err := json.Unmarshal(in.Value, &v); err != nil {
			return typed.Item{}, err
		}
		return intItem(in.Key, widthOrDefault(in.Width), v)
	default:
		return typed.Item{}, fmt.Errorf("%w: %q", typed.ErrUnknownKind, in.Type)
	}
}

func widthOrDefault(w int) int {
	if w == 0 {
		return 4
	}
	return w
}

func uintItem(key uint32, width int, v uint64) (typed.Item, error) {
	switch {
	case width == 1 && v <= math.MaxUint8:
		return typed.Uint8(key, uint8(v)), nil
	case width == 2 && v <= math.MaxUint16:
		return typed.Uint16(key, uint16(v)), nil
	case width == 4 && v <= math.MaxUint32:
		return typed.Uint32(key, uint32(v)), nil
	case width == 1 || width == 2 || width == 4:
		return typed.Item{}, fmt.Errorf("value %d overflows %d bytes", v, width)
	default:
		return typed.Item{}, fmt.Errorf("%w: %d", typed.ErrInvalidWidth, width)
	}
}

func intItem(key uint32, width int, v int64) (typed.Item, error) {
	switch {
	case width == 1 && v >= math.MinInt8 && v <= math.MaxInt8:
		return typed.Int8(key, int8(v)), nil
	case width == 2 && v >= math.MinInt16 && v <= math.MaxInt16:
		return typed.Int16(key, int16(v)), nil
	case width == 4 && v >= math.MinInt32 && v <= math.MaxInt32:
		return typed.Int32(key, int32(v)), nil
	case width == 1 || width == 2 || width == 4:
		return typed.Item{}, fmt.Errorf("value %d overflows %d bytes", v, width)
	default:
		return typed.Item{}, fmt.Errorf("%w: %d", typed.ErrInvalidWidth, width)
	}
}
