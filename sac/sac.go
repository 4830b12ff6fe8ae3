// Package sac implements the SAC ("simple array container") binary
// codec used to transmit reversibility masks: a 24-byte header followed
// by one or two int16 payload arrays, matching the wire format built by
// the original system's sac_encoder.py build_sac().
package sac

import (
	"bytes"
	"encoding/binary"
	"fmt"

	apperrors "github.com/artorize/gateway/errors"
)

// Magic is the fixed 4-byte SAC file identifier.
var Magic = [4]byte{'S', 'A', 'C', '1'}

// DTypeInt16 is the only payload element type this format supports.
const DTypeInt16 = 1

// FlagSingleArray marks a blob as carrying only payload A; payload B is
// omitted entirely rather than duplicated.
const FlagSingleArray = 1 << 0

// DiffOffset centers a signed 16-bit difference within the uint16 range
// so it can be packed into two uint8 planes: encoded = diff + DiffOffset.
const DiffOffset = 32768

// HeaderSize is the fixed size of the SAC header in bytes.
const HeaderSize = 24

// Header is the 24-byte SAC header.
type Header struct {
	Flags       uint8
	DType       uint8
	ArraysCount uint8
	Reserved    uint8
	LengthA     uint32
	LengthB     uint32
	Width       uint32
	Height      uint32
}

// Blob is a decoded SAC container: a header plus one or two int16 arrays.
type Blob struct {
	Header Header
	A      []int16
	B      []int16 // nil when Header.Flags has FlagSingleArray set
}

// EncodeSingle builds a SINGLE_ARRAY SAC blob carrying only `a`.
func EncodeSingle(a []int16, width, height int) []byte {
	h := Header{
		Flags:       FlagSingleArray,
		DType:       DTypeInt16,
		ArraysCount: 1,
		LengthA:     uint32(len(a)),
		LengthB:     0,
		Width:       uint32(width),
		Height:      uint32(height),
	}
	return encode(h, a, nil)
}

// EncodePair builds a two-array SAC blob carrying both `a` and `b`
// (e.g. the hi/lo byte planes of a packed difference).
func EncodePair(a, b []int16, width, height int) []byte {
	h := Header{
		Flags:       0,
		DType:       DTypeInt16,
		ArraysCount: 2,
		LengthA:     uint32(len(a)),
		LengthB:     uint32(len(b)),
		Width:       uint32(width),
		Height:      uint32(height),
	}
	return encode(h, a, b)
}

func encode(h Header, a, b []int16) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(HeaderSize + len(a)*2 + len(b)*2)
	buf.Write(Magic[:])
	buf.WriteByte(h.Flags)
	buf.WriteByte(h.DType)
	buf.WriteByte(h.ArraysCount)
	buf.WriteByte(h.Reserved)
	binary.Write(buf, binary.LittleEndian, h.LengthA)
	binary.Write(buf, binary.LittleEndian, h.LengthB)
	binary.Write(buf, binary.LittleEndian, h.Width)
	binary.Write(buf, binary.LittleEndian, h.Height)
	for _, v := range a {
		binary.Write(buf, binary.LittleEndian, v)
	}
	for _, v := range b {
		binary.Write(buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

// Decode parses a SAC blob, validating the magic number and that the
// payload length matches the header's declared array lengths.
func Decode(data []byte) (*Blob, error) {
	if len(data) < HeaderSize {
		return nil, apperrors.Wrap(apperrors.CategoryCodec, "sac.Decode", fmt.Errorf("blob too small: %d bytes", len(data)))
	}
	if !bytes.Equal(data[0:4], Magic[:]) {
		return nil, apperrors.Wrap(apperrors.CategoryCodec, "sac.Decode", fmt.Errorf("bad magic %q", data[0:4]))
	}
	h := Header{
		Flags:       data[4],
		DType:       data[5],
		ArraysCount: data[6],
		Reserved:    data[7],
		LengthA:     binary.LittleEndian.Uint32(data[8:12]),
		LengthB:     binary.LittleEndian.Uint32(data[12:16]),
		Width:       binary.LittleEndian.Uint32(data[16:20]),
		Height:      binary.LittleEndian.Uint32(data[20:24]),
	}
	if h.DType != DTypeInt16 {
		return nil, apperrors.Wrap(apperrors.CategoryCodec, "sac.Decode", fmt.Errorf("unsupported dtype %d", h.DType))
	}

	payload := data[HeaderSize:]
	wantA := int(h.LengthA) * 2
	if len(payload) < wantA {
		return nil, apperrors.Wrap(apperrors.CategoryCodec, "sac.Decode", fmt.Errorf("truncated array A: want %d bytes, have %d", wantA, len(payload)))
	}
	a := make([]int16, h.LengthA)
	for i := range a {
		a[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	payload = payload[wantA:]

	var b []int16
	if h.Flags&FlagSingleArray == 0 && h.ArraysCount >= 2 {
		wantB := int(h.LengthB) * 2
		if len(payload) < wantB {
			return nil, apperrors.Wrap(apperrors.CategoryCodec, "sac.Decode", fmt.Errorf("truncated array B: want %d bytes, have %d", wantB, len(payload)))
		}
		b = make([]int16, h.LengthB)
		for i := range b {
			b[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
		}
	}

	return &Blob{Header: h, A: a, B: b}, nil
}

// EncodeDifference packs a signed difference array into two uint8 planes
// (hi, lo), matching processor.py's _encode_difference. Returns
// ErrSACRangeExceeded if any value falls outside the representable range.
func EncodeDifference(diff []int32) (hi, lo []uint8, err error) {
	hi = make([]uint8, len(diff))
	lo = make([]uint8, len(diff))
	for i, d := range diff {
		encoded := d + DiffOffset
		if encoded < 0 || encoded > 65535 {
			return nil, nil, apperrors.Wrap(apperrors.CategoryCodec, "sac.EncodeDifference", apperrors.ErrSACRangeExceeded)
		}
		hi[i] = uint8(encoded >> 8)
		lo[i] = uint8(encoded & 0xFF)
	}
	return hi, lo, nil
}

// DecodeDifference recovers the signed difference array from hi/lo planes,
// matching processor.py's _decode_difference.
func DecodeDifference(hi, lo []uint8) []int16 {
	out := make([]int16, len(hi))
	for i := range hi {
		encoded := (uint16(hi[i]) << 8) | uint16(lo[i])
		out[i] = int16(int32(encoded) - DiffOffset)
	}
	return out
}
