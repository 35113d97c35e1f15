// Copyright 2026 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package format implements the clog binary container format.
//
// A clog file is a fixed size Header followed by any number of chunks:
//
//	File  := Header Chunk*
//	Chunk := ChunkHeader Payload
//
// Each chunk payload is an independently compressed run of records. The chunk
// header carries the payload's CRC-32C as well as a CRC-32C of its own
// fields, so that a reader can tell a damaged payload (skip exactly one chunk)
// from a damaged header (resynchronise).
//
// All multi-byte integers in headers are little endian.
package format

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/Akanyi/clog/codec"
	"github.com/Akanyi/clog/common/errors"
)

var (
	// ErrFormat is returned for a malformed file header or chunk header.
	ErrFormat = errors.New("invalid clog format")

	// ErrChecksum is returned when a chunk's contents do not match its header.
	ErrChecksum = errors.New("chunk checksum mismatch")

	// ErrTruncated is returned when a file ends in the middle of a chunk.
	ErrTruncated = errors.New("truncated chunk")

	// ErrInvalidRecord is returned for a record which cannot be encoded.
	ErrInvalidRecord = errors.New("invalid record")
)

const (
	// Magic is the first four bytes of every clog file.
	Magic = "CLOG"

	// Version is the format version written by this package.
	Version = 1

	// HeaderSize is the size of the file header.
	HeaderSize = 16

	// ChunkHeaderSize is the size of a chunk header.
	ChunkHeaderSize = 24

	// MaxChunkSize bounds the compressed and uncompressed size of a chunk
	// payload.
	MaxChunkSize = 256 << 20
)

// Header flags.
const (
	// FlagStrict marks a file whose readers should fail on any corruption.
	FlagStrict uint8 = 1 << 0

	knownFlags = FlagStrict
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC-32C of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Header is the clog file header.
type Header struct {
	Version uint8
	// Codec is the default codec of the file. Individual chunks record the
	// codec they were actually written with.
	Codec  codec.ID
	Strict bool
}

// NewHeader returns a Header for a new file.
func NewHeader(c codec.ID, strict bool) Header {
	return Header{Version: Version, Codec: c, Strict: strict}
}

// Encode returns the HeaderSize byte encoding of h.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, Magic)
	buf[4] = h.Version
	buf[5] = uint8(h.Codec)
	if h.Strict {
		buf[6] |= FlagStrict
	}
	return buf
}

// DecodeHeader parses a file header.
func DecodeHeader(b []byte) (Header, error) {
	switch {
	case len(b) < HeaderSize:
		return Header{}, errors.Annotate(ErrFormat, "header is %d bytes, want %d", len(b), HeaderSize).Err()
	case string(b[:4]) != Magic:
		return Header{}, errors.Annotate(ErrFormat, "bad magic %q", b[:4]).Err()
	case b[4] != Version:
		return Header{}, errors.Annotate(ErrFormat, "unsupported version %d", b[4]).Err()
	case b[6]&^knownFlags != 0:
		return Header{}, errors.Annotate(ErrFormat, "unknown header flags %#02x", b[6]).Err()
	}
	return Header{
		Version: b[4],
		Codec:   codec.ID(b[5]),
		Strict:  b[6]&FlagStrict != 0,
	}, nil
}

// ReadHeader reads and parses a file header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, buf)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return Header{}, errors.Annotate(ErrFormat, "header is %d bytes, want %d", n, HeaderSize).Err()
	case err != nil:
		return Header{}, errors.Annotate(err, "reading header").Err()
	}
	return DecodeHeader(buf)
}

// ChunkHeader describes a single chunk.
type ChunkHeader struct {
	CompressedLen   uint32
	UncompressedLen uint32
	RecordCount     uint32
	Codec           codec.ID
	PayloadCRC      uint32
}

// Encode returns the ChunkHeaderSize byte encoding of h, including its
// self-checksum.
func (h ChunkHeader) Encode() []byte {
	return h.appendTo(make([]byte, 0, ChunkHeaderSize))
}

func (h ChunkHeader) appendTo(dst []byte) []byte {
	start := len(dst)
	dst = binary.LittleEndian.AppendUint32(dst, h.CompressedLen)
	dst = binary.LittleEndian.AppendUint32(dst, h.UncompressedLen)
	dst = binary.LittleEndian.AppendUint32(dst, h.RecordCount)
	dst = append(dst, uint8(h.Codec), 0, 0, 0)
	dst = binary.LittleEndian.AppendUint32(dst, h.PayloadCRC)
	return binary.LittleEndian.AppendUint32(dst, Checksum(dst[start:]))
}

// DecodeChunkHeader parses a chunk header.
//
// A header whose self-checksum does not match, or which declares lengths
// beyond MaxChunkSize, fails with ErrFormat.
func DecodeChunkHeader(b []byte) (ChunkHeader, error) {
	if len(b) < ChunkHeaderSize {
		return ChunkHeader{}, errors.Annotate(ErrFormat, "chunk header is %d bytes, want %d", len(b), ChunkHeaderSize).Err()
	}
	if got, want := Checksum(b[:20]), binary.LittleEndian.Uint32(b[20:24]); got != want {
		return ChunkHeader{}, errors.Annotate(ErrFormat, "chunk header checksum %08x, want %08x", got, want).Err()
	}

	h := ChunkHeader{
		CompressedLen:   binary.LittleEndian.Uint32(b[0:4]),
		UncompressedLen: binary.LittleEndian.Uint32(b[4:8]),
		RecordCount:     binary.LittleEndian.Uint32(b[8:12]),
		Codec:           codec.ID(b[12]),
		PayloadCRC:      binary.LittleEndian.Uint32(b[16:20]),
	}
	if h.CompressedLen > MaxChunkSize || h.UncompressedLen > MaxChunkSize {
		return ChunkHeader{}, errors.Annotate(ErrFormat, "chunk lengths %d/%d exceed %d",
			h.CompressedLen, h.UncompressedLen, MaxChunkSize).Err()
	}
	return h, nil
}

// ReadChunkHeader reads and parses the next chunk header from r.
//
// It returns io.EOF if r is exhausted exactly at a chunk boundary, and
// ErrTruncated if r ends part way through the header.
func ReadChunkHeader(r io.Reader) (ChunkHeader, error) {
	var buf [ChunkHeaderSize]byte
	n, err := io.ReadFull(r, buf[:])
	switch {
	case err == io.EOF:
		return ChunkHeader{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		return ChunkHeader{}, errors.Annotate(ErrTruncated, "chunk header cut at %d bytes", n).Err()
	case err != nil:
		return ChunkHeader{}, errors.Annotate(err, "reading chunk header").Err()
	}
	return DecodeChunkHeader(buf[:])
}

// Verify checks payload against the header's length and checksum.
func (h ChunkHeader) Verify(payload []byte) error {
	if len(payload) != int(h.CompressedLen) {
		return errors.Annotate(ErrChecksum, "payload is %d bytes, want %d", len(payload), h.CompressedLen).Err()
	}
	if got := Checksum(payload); got != h.PayloadCRC {
		return errors.Annotate(ErrChecksum, "payload checksum %08x, want %08x", got, h.PayloadCRC).Err()
	}
	return nil
}

// Size returns the on-disk size of the chunk described by h.
func (h ChunkHeader) Size() int64 {
	return ChunkHeaderSize + int64(h.CompressedLen)
}

// EncodeChunk frames an already compressed payload as a chunk.
func EncodeChunk(payload []byte, c codec.ID, uncompressedLen, recordCount int) []byte {
	h := ChunkHeader{
		CompressedLen:   uint32(len(payload)),
		UncompressedLen: uint32(uncompressedLen),
		RecordCount:     uint32(recordCount),
		Codec:           c,
		PayloadCRC:      Checksum(payload),
	}
	buf := make([]byte, 0, ChunkHeaderSize+len(payload))
	buf = h.appendTo(buf)
	return append(buf, payload...)
}

// BuildChunk encodes and compresses records into a single chunk.
//
// Payloads smaller than codec.MinCompressSize are stored with codec.Identity.
// The returned header describes the chunk as written.
func BuildChunk(records []*Record, c codec.ID) ([]byte, ChunkHeader, error) {
	raw, err := EncodeRecords(records)
	if err != nil {
		return nil, ChunkHeader{}, err
	}
	if len(raw) > MaxChunkSize {
		return nil, ChunkHeader{}, errors.Annotate(ErrInvalidRecord,
			"%d records encode to %d bytes, more than the chunk limit", len(records), len(raw)).Err()
	}

	if len(raw) < codec.MinCompressSize {
		c = codec.Identity
	}
	payload, err := codec.Compress(c, raw)
	if err != nil {
		return nil, ChunkHeader{}, err
	}
	chunk := EncodeChunk(payload, c, len(raw), len(records))
	h, err := DecodeChunkHeader(chunk)
	if err != nil {
		return nil, ChunkHeader{}, errors.Annotate(err, "compressed payload").Err()
	}
	return chunk, h, nil
}

// DecodeChunk verifies, decompresses and decodes the payload of the chunk
// described by h.
func DecodeChunk(h ChunkHeader, payload []byte) ([]*Record, error) {
	if err := h.Verify(payload); err != nil {
		return nil, err
	}
	raw, err := codec.Decompress(h.Codec, payload, int(h.UncompressedLen))
	if err != nil {
		return nil, err
	}
	if len(raw) != int(h.UncompressedLen) {
		return nil, errors.Annotate(ErrChecksum, "decoded payload is %d bytes, want %d", len(raw), h.UncompressedLen).Err()
	}
	return DecodeRecords(raw, int(h.RecordCount))
}
