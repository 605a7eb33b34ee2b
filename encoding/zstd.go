package encoding

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic starts every zstd frame
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// Codec marshals values with msgpack and optionally compresses them with zstd.
// Decoding detects compressed payloads by their frame magic, so a reader
// accepts both forms regardless of its own setting.
type Codec struct {
	compress bool
}

// NewCodec returns a codec for compression "" (none) or "zstd"
func NewCodec(compression string) (*Codec, error) {
	switch compression {
	case "", "none":
		return &Codec{}, nil
	case "zstd":
		if _, _, err := zstdCodecs(); err != nil {
			return nil, fmt.Errorf("failed to initialize zstd: %w", err)
		}
		return &Codec{compress: true}, nil
	}
	return nil, fmt.Errorf("unknown compression: %s", compression)
}

// Encode marshals v and compresses it when the codec is configured to
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	if !c.compress {
		return data, nil
	}
	enc, _, err := zstdCodecs()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decode decompresses data if needed and unmarshals it into v
func (c *Codec) Decode(data []byte, v interface{}) error {
	if bytes.HasPrefix(data, zstdMagic) {
		_, dec, err := zstdCodecs()
		if err != nil {
			return err
		}
		raw, err := dec.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("failed to decompress payload: %w", err)
		}
		data = raw
	}
	return Unmarshal(data, v)
}
