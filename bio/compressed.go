package bio

import "github.com/clrforge/clrmeta/mderr"

// CompressUint returns the ECMA-335 §II.23.2 compressed-uint encoding of v.
// Encoding length is 1 byte for v < 0x80, 2 bytes for v < 0x4000, 4 bytes for
// v < 0x20000000; larger values are not representable.
func CompressUint(v uint32) ([]byte, error) {
	switch {
	case v < 0x80:
		return []byte{byte(v)}, nil
	case v < 0x4000:
		return []byte{
			byte(v>>8) | 0x80,
			byte(v),
		}, nil
	case v < 0x20000000:
		return []byte{
			byte(v>>24) | 0xC0,
			byte(v >> 16),
			byte(v >> 8),
			byte(v),
		}, nil
	default:
		return nil, mderr.New(mderr.PhaseTable, mderr.KindSignatureError).
			Detail("compressed uint %d out of representable range", v).Build()
	}
}

// DecompressUint decodes a compressed uint starting at data[0], returning
// the value and the number of bytes consumed (1, 2, or 4).
func DecompressUint(data []byte) (uint32, int, error) {
	if len(data) == 0 {
		return 0, 0, mderr.New(mderr.PhaseTable, mderr.KindMalformedImage).
			Detail("compressed uint: empty input").Build()
	}
	b0 := data[0]
	switch {
	case b0&0x80 == 0:
		return uint32(b0), 1, nil
	case b0&0xC0 == 0x80:
		if len(data) < 2 {
			return 0, 0, mderr.New(mderr.PhaseTable, mderr.KindMalformedImage).
				Detail("compressed uint: truncated 2-byte form").Build()
		}
		v := (uint32(b0&0x3F) << 8) | uint32(data[1])
		return v, 2, nil
	default:
		if len(data) < 4 {
			return 0, 0, mderr.New(mderr.PhaseTable, mderr.KindMalformedImage).
				Detail("compressed uint: truncated 4-byte form").Build()
		}
		v := (uint32(b0&0x3F) << 24) | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
		return v, 4, nil
	}
}

// CompressInt returns the ECMA-335 §II.23.2 compressed-int encoding of v:
// the sign bit is rotated into the low bit of the unsigned payload before
// applying the same length rules as CompressUint.
func CompressInt(v int32) ([]byte, error) {
	switch {
	case v >= -0x40 && v < 0x40:
		u := (uint32(v) << 1) & 0x7F
		if v < 0 {
			u |= 1
		}
		return []byte{byte(u)}, nil
	case v >= -0x2000 && v < 0x2000:
		u := (uint32(v) << 1) & 0x3FFF
		if v < 0 {
			u |= 1
		}
		return []byte{
			byte(u>>8) | 0x80,
			byte(u),
		}, nil
	case v >= -0x10000000 && v < 0x10000000:
		u := (uint32(v) << 1) & 0x1FFFFFFF
		if v < 0 {
			u |= 1
		}
		return []byte{
			byte(u>>24) | 0xC0,
			byte(u >> 16),
			byte(u >> 8),
			byte(u),
		}, nil
	default:
		return nil, mderr.New(mderr.PhaseTable, mderr.KindSignatureError).
			Detail("compressed int %d out of representable range", v).Build()
	}
}

// DecompressInt decodes a compressed int starting at data[0].
func DecompressInt(data []byte) (int32, int, error) {
	u, n, err := DecompressUint(data)
	if err != nil {
		return 0, 0, err
	}
	var bits, width uint32
	switch n {
	case 1:
		bits, width = u, 7
	case 2:
		bits, width = u&0x3FFF, 14
	case 4:
		bits, width = u&0x3FFFFFFF, 29
	}
	signed := bits&1 != 0
	val := int32(bits >> 1)
	if signed {
		val |= ^int32((1 << (width - 1)) - 1)
	}
	return val, n, nil
}
