package fingerprint

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// codecLevel is the zstd compression level used for embedding vectors: a
// middle setting (level 3 of zstd's ~22) that favors encode/decode speed
// over the last few percent of ratio.
const codecLevel = zstd.SpeedDefault

// frameHeaderSize is the length, in bytes, of the self-framing header
// prepended to every compressed blob: a uint32 uncompressed byte length.
const frameHeaderSize = 4

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(codecLevel))
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// CompressVector encodes a float32 vector into a self-framed, lossless blob:
// a 4-byte uncompressed-length prefix followed by the zstd-compressed
// little-endian byte representation of v. DecompressVector(CompressVector(v))
// reconstructs v bit-exact, including NaN payloads, because the codec never
// interprets the floats — it compresses their raw bytes.
func CompressVector(v []float32) []byte {
	raw := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
	}

	compressed := getEncoder().EncodeAll(raw, nil)

	out := make([]byte, frameHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out, uint32(len(raw)))
	copy(out[frameHeaderSize:], compressed)
	return out
}

// DecompressVector reverses CompressVector. A truncated or malformed blob
// returns a *semerr.Error of kind Codec rather than silently returning a
// short or zeroed vector.
func DecompressVector(blob []byte) ([]float32, error) {
	if len(blob) < frameHeaderSize {
		return nil, semerr.Newf(semerr.Codec, "blob too short: %d bytes", len(blob))
	}

	rawLen := binary.LittleEndian.Uint32(blob)
	if rawLen%4 != 0 {
		return nil, semerr.Newf(semerr.Codec, "uncompressed length %d is not a multiple of 4", rawLen)
	}

	raw, err := getDecoder().DecodeAll(blob[frameHeaderSize:], make([]byte, 0, rawLen))
	if err != nil {
		return nil, semerr.New(semerr.Codec, fmt.Errorf("decompressing vector: %w", err))
	}
	if uint32(len(raw)) != rawLen {
		return nil, semerr.Newf(semerr.Codec, "truncated blob: expected %d decompressed bytes, got %d", rawLen, len(raw))
	}

	v := make([]float32, rawLen/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return v, nil
}
