package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is the compression applied to a basket.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecLZ4
	CodecZstd
)

var codecNames = map[Codec]string{
	CodecNone: "none",
	CodecLZ4:  "lz4",
	CodecZstd: "zstd",
}

func (c Codec) String() string {
	if s, ok := codecNames[c]; ok {
		return s
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// ParseCodec maps a configuration name to a Codec.
func ParseCodec(s string) (Codec, error) {
	for c, name := range codecNames {
		if name == s {
			return c, nil
		}
	}
	return CodecNone, fmt.Errorf("unknown codec %q", s)
}

func (c Codec) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Codec) UnmarshalText(b []byte) error {
	v, err := ParseCodec(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// A basket is kept uncompressed unless compression saves at least 10%.
const minCompressionRatio = 0.9

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// compress returns the stored form of raw and the codec actually used.
func compress(raw []byte, c Codec) ([]byte, Codec, error) {
	if c == CodecNone || len(raw) == 0 {
		return raw, CodecNone, nil
	}
	var out []byte
	switch c {
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, CodecNone, fmt.Errorf("lz4: %w", err)
		}
		// n == 0 means incompressible
		out = buf[:n]
	case CodecZstd:
		enc := getZstdEncoder()
		out = enc.EncodeAll(raw, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, CodecNone, fmt.Errorf("compressing: unknown codec %v", c)
	}
	if len(out) == 0 || float64(len(out)) > float64(len(raw))*minCompressionRatio {
		return raw, CodecNone, nil
	}
	return out, c, nil
}

var errSizeMismatch = errors.New("decompressed size mismatch")

// decompress restores a basket of rawSize bytes.
func decompress(stored []byte, c Codec, rawSize int) ([]byte, error) {
	switch c {
	case CodecNone:
		if len(stored) != rawSize {
			return nil, errSizeMismatch
		}
		return stored, nil
	case CodecLZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if n != rawSize {
			return nil, errSizeMismatch
		}
		return out, nil
	case CodecZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(stored, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		if len(out) != rawSize {
			return nil, errSizeMismatch
		}
		return out, nil
	}
	return nil, fmt.Errorf("decompressing: unknown codec %v", c)
}
