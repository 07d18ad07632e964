// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names the codec applied to a unit's stored bytes. The
// values are the manifest spellings.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// DefaultMaxDecodedSize caps the decompressed size of one unit.
const DefaultMaxDecodedSize = 1 << 30

// ErrDecodedTooLarge reports a unit whose decompressed bytes exceed
// the size limit.
var ErrDecodedTooLarge = errors.New("decompressed size exceeds limit")

// ParseCompression accepts the manifest spelling. Empty means none.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// zstd encoders and decoders are safe for concurrent use and costly
// to build, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("payload: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(DefaultMaxDecodedSize))
	if err != nil {
		panic("payload: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress encodes data with codec. Publishing tools and tests use it
// to produce unit files. The empty codec means none.
func Compress(codec Compression, data []byte) ([]byte, error) {
	switch codec {
	case "", CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", codec)
	}
}

// Decompress reverses Compress, refusing output larger than
// DefaultMaxDecodedSize.
func Decompress(codec Compression, data []byte) ([]byte, error) {
	return DecompressLimit(codec, data, DefaultMaxDecodedSize)
}

// DecompressLimit reverses Compress, failing with ErrDecodedTooLarge
// once the output would exceed limit bytes. A limit that is not
// positive, or above DefaultMaxDecodedSize, means the default.
func DecompressLimit(codec Compression, data []byte, limit int64) ([]byte, error) {
	if limit <= 0 || limit > DefaultMaxDecodedSize {
		limit = DefaultMaxDecodedSize
	}
	switch codec {
	case "", CompressionNone:
		return data, nil
	case CompressionZstd:
		var header zstd.Header
		if err := header.Decode(data); err == nil && header.HasFCS && header.FrameContentSize > uint64(limit) {
			return nil, fmt.Errorf("zstd decompress: %w", ErrDecodedTooLarge)
		}
		decoded, err := zstdDecoder.DecodeAll(data, nil)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
			return nil, fmt.Errorf("zstd decompress: %w", ErrDecodedTooLarge)
		}
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if int64(len(decoded)) > limit {
			return nil, fmt.Errorf("zstd decompress: %w", ErrDecodedTooLarge)
		}
		return decoded, nil
	case CompressionLZ4:
		reader := io.LimitReader(lz4.NewReader(bytes.NewReader(data)), limit+1)
		decoded, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if int64(len(decoded)) > limit {
			return nil, fmt.Errorf("lz4 decompress: %w", ErrDecodedTooLarge)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", codec)
	}
}
