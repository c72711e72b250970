package backup

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor provides streaming compression for artifact pipelines
type Compressor interface {
	// NewWriter wraps w so that writes are compressed. Close flushes.
	NewWriter(w io.Writer) (io.WriteCloser, error)
	// NewReader wraps r so that reads are decompressed
	NewReader(r io.Reader) (io.ReadCloser, error)
	// Type returns the compression type
	Type() CompressionType
	// Extension returns the file extension for this compression type
	Extension() string
}

// NewCompressor creates a compressor for the given configuration
func NewCompressor(config CompressionConfig) (Compressor, error) {
	if !config.Enabled || config.Algorithm == CompressionTypeNone {
		return &NoopCompressor{}, nil
	}

	switch config.Algorithm {
	case CompressionTypeGzip:
		return NewGzipCompressor(config.Level)
	case CompressionTypeLZ4:
		return NewLZ4Compressor(config.Level)
	case CompressionTypeZstd:
		return NewZstdCompressor(config.Level)
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported compression algorithm: %s", config.Algorithm), nil)
	}
}

// NoopCompressor passes data through unchanged
type NoopCompressor struct{}

// NewWriter returns w wrapped in a no-op closer
func (nc *NoopCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

// NewReader returns r wrapped in a no-op closer
func (nc *NoopCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// Type returns the compression type
func (nc *NoopCompressor) Type() CompressionType {
	return CompressionTypeNone
}

// Extension returns an empty extension
func (nc *NoopCompressor) Extension() string {
	return ""
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// GzipCompressor implements gzip compression
type GzipCompressor struct {
	level int
}

// NewGzipCompressor creates a new gzip compressor with the specified level
func NewGzipCompressor(level int) (*GzipCompressor, error) {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		return nil, NewValidationError(fmt.Sprintf("gzip compression level must be between %d and %d, got %d",
			gzip.BestSpeed, gzip.BestCompression, level), nil)
	}
	return &GzipCompressor{level: level}, nil
}

// NewWriter wraps w with a gzip writer
func (gc *GzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	writer, err := gzip.NewWriterLevel(w, gc.level)
	if err != nil {
		return nil, NewTransformError("failed to create gzip writer", err)
	}
	return writer, nil
}

// NewReader wraps r with a gzip reader
func (gc *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, NewTransformError("failed to create gzip reader", err)
	}
	return reader, nil
}

// Type returns the compression type
func (gc *GzipCompressor) Type() CompressionType {
	return CompressionTypeGzip
}

// Extension returns the gzip file extension
func (gc *GzipCompressor) Extension() string {
	return ".gz"
}

// LZ4Compressor implements LZ4 compression
type LZ4Compressor struct {
	level int
}

// NewLZ4Compressor creates a new LZ4 compressor with the specified level
func NewLZ4Compressor(level int) (*LZ4Compressor, error) {
	if level < 1 || level > 12 {
		return nil, NewValidationError(fmt.Sprintf("lz4 compression level must be between 1 and 12, got %d", level), nil)
	}
	return &LZ4Compressor{level: level}, nil
}

// NewWriter wraps w with an LZ4 writer
func (lc *LZ4Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	writer := lz4.NewWriter(w)
	if err := writer.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(lc.level))); err != nil {
		return nil, NewTransformError("failed to set lz4 compression level", err)
	}
	return writer, nil
}

// NewReader wraps r with an LZ4 reader
func (lc *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// Type returns the compression type
func (lc *LZ4Compressor) Type() CompressionType {
	return CompressionTypeLZ4
}

// Extension returns the LZ4 file extension
func (lc *LZ4Compressor) Extension() string {
	return ".lz4"
}

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct {
	level int
}

// NewZstdCompressor creates a new Zstd compressor with the specified level
func NewZstdCompressor(level int) (*ZstdCompressor, error) {
	if level < 1 || level > 22 {
		return nil, NewValidationError(fmt.Sprintf("zstd compression level must be between 1 and 22, got %d", level), nil)
	}
	return &ZstdCompressor{level: level}, nil
}

// NewWriter wraps w with a zstd encoder
func (zc *ZstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zc.level)))
	if err != nil {
		return nil, NewTransformError("failed to create zstd writer", err)
	}
	return encoder, nil
}

// NewReader wraps r with a zstd decoder
func (zc *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, NewTransformError("failed to create zstd reader", err)
	}
	return &zstdReadCloser{decoder}, nil
}

// Type returns the compression type
func (zc *ZstdCompressor) Type() CompressionType {
	return CompressionTypeZstd
}

// Extension returns the zstd file extension
func (zc *ZstdCompressor) Extension() string {
	return ".zst"
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
