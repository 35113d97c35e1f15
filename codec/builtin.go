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

package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

func init() {
	Register(identityCodec{})
	Register(gzipCodec{})
	Register(zstdCodec{})
	Register(s2Codec{})
}

type identityCodec struct{}

func (identityCodec) ID() ID       { return Identity }
func (identityCodec) Name() string { return "identity" }

func (identityCodec) Compress(dst, src []byte) ([]byte, error) {
	return append(dst, src...), nil
}

func (identityCodec) Decompress(dst, src []byte, limit int) ([]byte, error) {
	if len(src) > limit {
		return nil, errTooLarge(limit)
	}
	return append(dst, src...), nil
}

type gzipCodec struct{}

func (gzipCodec) ID() ID       { return Gzip }
func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Compress(dst, src []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	gz := gzip.NewWriter(buf)
	if _, err := gz.Write(src); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(dst, src []byte, limit int) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	buf := bytes.NewBuffer(dst)
	n, err := io.Copy(buf, io.LimitReader(gz, int64(limit)+1))
	switch {
	case err != nil:
		return nil, err
	case n > int64(limit):
		return nil, errTooLarge(limit)
	}
	return buf.Bytes(), nil
}

// Globally shared zstd encoder and decoder. We use only their EncodeAll and
// DecodeAll methods which are allowed to be used concurrently.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if zstdEncoder, err = zstd.NewWriter(nil); err != nil {
		panic(err) // this is impossible
	}
	if zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize)); err != nil {
		panic(err) // this is impossible
	}
}

type zstdCodec struct{}

func (zstdCodec) ID() ID       { return Zstd }
func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(dst, src []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(src, dst), nil
}

func (zstdCodec) Decompress(dst, src []byte, limit int) ([]byte, error) {
	base := len(dst)
	out, err := zstdDecoder.DecodeAll(src, dst)
	if err != nil {
		return nil, err
	}
	if len(out)-base > limit {
		return nil, errTooLarge(limit)
	}
	return out, nil
}

type s2Codec struct{}

func (s2Codec) ID() ID       { return S2 }
func (s2Codec) Name() string { return "s2" }

func (s2Codec) Compress(dst, src []byte) ([]byte, error) {
	return append(dst, s2.Encode(nil, src)...), nil
}

func (s2Codec) Decompress(dst, src []byte, limit int) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	switch {
	case err != nil:
		return nil, err
	case n > limit:
		return nil, errTooLarge(limit)
	}
	out, err := s2.Decode(nil, src)
	if err != nil {
		return nil, err
	}
	return append(dst, out...), nil
}
