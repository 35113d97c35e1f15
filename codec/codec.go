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

// Package codec implements the compression algorithms applied to clog chunk
// payloads.
//
// Codecs are stateless and safe for concurrent use. They are addressed by a
// one byte ID which is persisted in file and chunk headers, so IDs must never
// be reassigned.
package codec

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Akanyi/clog/common/errors"
)

// ID identifies a compression codec on disk.
type ID uint8

// Known codec IDs.
const (
	Identity ID = 0
	Gzip     ID = 1
	Zstd     ID = 2
	S2       ID = 3
)

// MinCompressSize is the payload size below which writers store a chunk
// with Identity regardless of the configured codec.
const MinCompressSize = 64

// MaxDecodedSize bounds the output of Decompress.
const MaxDecodedSize = 256 << 20

var (
	// ErrUnsupportedCodec is returned for a codec ID that is not registered.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrCodec is returned when a codec fails to process its input.
	ErrCodec = errors.New("codec failure")
)

// Codec is a single compression algorithm.
type Codec interface {
	// ID returns the on-disk identifier of this codec.
	ID() ID
	// Name returns the human readable name, as accepted by ParseID.
	Name() string
	// Compress compresses src, appending the result to dst.
	Compress(dst, src []byte) ([]byte, error)
	// Decompress decompresses src, appending at most limit bytes to dst.
	Decompress(dst, src []byte, limit int) ([]byte, error)
}

var registry = struct {
	sync.RWMutex
	byID   map[ID]Codec
	byName map[string]Codec
}{
	byID:   map[ID]Codec{},
	byName: map[string]Codec{},
}

// Register adds c to the codec registry.
//
// Panics if a codec with the same ID or name is already registered.
func Register(c Codec) {
	registry.Lock()
	defer registry.Unlock()

	if prev, ok := registry.byID[c.ID()]; ok {
		panic(fmt.Sprintf("codec: ID %d is already registered to %q", c.ID(), prev.Name()))
	}
	name := strings.ToLower(c.Name())
	if _, ok := registry.byName[name]; ok {
		panic(fmt.Sprintf("codec: name %q is already registered", name))
	}
	registry.byID[c.ID()] = c
	registry.byName[name] = c
}

// Lookup returns the codec registered for id.
func Lookup(id ID) (Codec, error) {
	registry.RLock()
	defer registry.RUnlock()

	if c, ok := registry.byID[id]; ok {
		return c, nil
	}
	return nil, errors.Annotate(ErrUnsupportedCodec, "codec id %d", id).Err()
}

// ParseID resolves a codec name ("none", "identity", "gzip", "zstd", "s2").
func ParseID(name string) (ID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "none" || name == "" {
		return Identity, nil
	}

	registry.RLock()
	defer registry.RUnlock()

	if c, ok := registry.byName[name]; ok {
		return c.ID(), nil
	}
	return 0, errors.Annotate(ErrUnsupportedCodec, "codec name %q", name).Err()
}

// String implements fmt.Stringer.
func (id ID) String() string {
	registry.RLock()
	defer registry.RUnlock()

	if c, ok := registry.byID[id]; ok {
		return c.Name()
	}
	return fmt.Sprintf("codec(%d)", uint8(id))
}

// Compress compresses src with the codec identified by id.
func Compress(id ID, src []byte) ([]byte, error) {
	c, err := Lookup(id)
	if err != nil {
		return nil, err
	}
	out, err := c.Compress(nil, src)
	if err != nil {
		return nil, errors.Annotate(withCodecErr(err), "compressing with %s", c.Name()).Err()
	}
	return out, nil
}

// Decompress decompresses src with the codec identified by id.
//
// sizeHint is the expected decoded size. Output larger than sizeHint (or than
// MaxDecodedSize when sizeHint is not positive) is rejected with ErrCodec.
func Decompress(id ID, src []byte, sizeHint int) ([]byte, error) {
	c, err := Lookup(id)
	if err != nil {
		return nil, err
	}

	limit := MaxDecodedSize
	var dst []byte
	if sizeHint > 0 && sizeHint <= MaxDecodedSize {
		limit = sizeHint
		dst = make([]byte, 0, sizeHint)
	}
	out, err := c.Decompress(dst, src, limit)
	if err != nil {
		return nil, errors.Annotate(withCodecErr(err), "decompressing with %s", c.Name()).Err()
	}
	return out, nil
}

// withCodecErr makes sure err matches ErrCodec.
func withCodecErr(err error) error {
	if errors.Is(err, ErrCodec) {
		return err
	}
	return errors.Join(ErrCodec, err)
}

// errTooLarge is returned by codecs whose output exceeds the limit.
func errTooLarge(limit int) error {
	return errors.Annotate(ErrCodec, "decoded size exceeds %d bytes", limit).Err()
}
