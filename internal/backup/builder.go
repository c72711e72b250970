package backup

import (
	"context"
	"crypto/sha256"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// builderChunkSize bounds the buffer moved per pipeline step
const builderChunkSize = 64 * 1024

// ProgressFunc receives byte counts at a bounded cadence during a build.
// Mid-stream updates run on their own goroutine and are dropped while a
// previous invocation is still running, so a slow callback never stalls the
// data path. The final totals are always delivered, after the stream
// completes and any in-flight invocation has returned.
type ProgressFunc func(bytesRead, bytesWritten int64)

// BuildResult summarizes one completed artifact build
type BuildResult struct {
	BytesRead    int64
	BytesWritten int64
	Digest       string
}

// Builder streams source data through compression and optional encryption,
// computing the content digest of the final bytes as they flow. No stage
// buffers the whole payload.
type Builder struct {
	compressor       Compressor
	encryptor        *Encryptor
	progressInterval time.Duration
	onProgress       ProgressFunc
}

// NewBuilder creates a builder from compression and encryption configuration
func NewBuilder(compression CompressionConfig, encryption EncryptionConfig) (*Builder, error) {
	compressor, err := NewCompressor(compression)
	if err != nil {
		return nil, err
	}

	encryptor, err := NewEncryptorFromConfig(encryption)
	if err != nil {
		return nil, err
	}

	return &Builder{
		compressor:       compressor,
		encryptor:        encryptor,
		progressInterval: 500 * time.Millisecond,
	}, nil
}

// WithProgress registers a progress callback emitted at the given interval.
// See ProgressFunc for the delivery contract.
func (b *Builder) WithProgress(interval time.Duration, fn ProgressFunc) *Builder {
	if interval > 0 {
		b.progressInterval = interval
	}
	b.onProgress = fn
	return b
}

// Compressor returns the configured compressor
func (b *Builder) Compressor() Compressor {
	return b.compressor
}

// Encrypted reports whether builds are encrypted
func (b *Builder) Encrypted() bool {
	return b.encryptor != nil
}

// Build streams src through the stage chain into dst and returns the byte
// counts and the digest of the final written bytes. Any stage failure aborts
// the chain with a typed error; dst may hold partial output the caller must
// discard.
func (b *Builder) Build(ctx context.Context, src io.Reader, dst io.Writer) (*BuildResult, error) {
	digest := sha256.New()
	counted := &countingWriter{dst: io.MultiWriter(dst, digest)}

	var sink io.Writer = counted
	var encWriter io.WriteCloser
	if b.encryptor != nil {
		var err error
		encWriter, err = b.encryptor.NewWriter(counted)
		if err != nil {
			return nil, err
		}
		sink = encWriter
	}

	compWriter, err := b.compressor.NewWriter(sink)
	if err != nil {
		return nil, err
	}

	var bytesRead int64
	var callbackBusy int32
	var callbacks sync.WaitGroup
	defer callbacks.Wait()

	// hand updates to a goroutine and drop them while one is still running,
	// keeping the read loop independent of callback latency
	emitProgress := func(read, written int64) {
		if !atomic.CompareAndSwapInt32(&callbackBusy, 0, 1) {
			return
		}
		callbacks.Add(1)
		go func() {
			defer callbacks.Done()
			defer atomic.StoreInt32(&callbackBusy, 0)
			b.onProgress(read, written)
		}()
	}

	lastProgress := time.Now()
	buf := make([]byte, builderChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, NewSourceReadError("build cancelled", err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			bytesRead += int64(n)
			if _, writeErr := compWriter.Write(buf[:n]); writeErr != nil {
				return nil, wrapTransformErr(writeErr)
			}
			if b.onProgress != nil && time.Since(lastProgress) >= b.progressInterval {
				emitProgress(bytesRead, counted.n)
				lastProgress = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, NewSourceReadError("failed to read source stream", readErr)
		}
	}

	if err := compWriter.Close(); err != nil {
		return nil, wrapTransformErr(err)
	}
	if encWriter != nil {
		if err := encWriter.Close(); err != nil {
			return nil, wrapTransformErr(err)
		}
	}

	if b.onProgress != nil {
		// final totals are delivered synchronously, after any mid-stream
		// invocation has drained
		callbacks.Wait()
		b.onProgress(bytesRead, counted.n)
	}

	return &BuildResult{
		BytesRead:    bytesRead,
		BytesWritten: counted.n,
		Digest:       FormatDigest(digest.Sum(nil)),
	}, nil
}

// Decode reverses the stage chain: given a stored artifact stream, returns a
// reader yielding the original source bytes
func (b *Builder) Decode(r io.Reader) (io.ReadCloser, error) {
	var src io.Reader = r
	if b.encryptor != nil {
		decReader, err := b.encryptor.NewReader(r)
		if err != nil {
			return nil, err
		}
		src = decReader
	}
	return b.compressor.NewReader(src)
}

// VerifyDigest reads r to completion and compares its digest to expected
func VerifyDigest(ctx context.Context, r io.Reader, expected string) (bool, error) {
	h := sha256.New()
	buf := make([]byte, builderChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return false, NewStorageReadError("verification cancelled", err)
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, NewStorageReadError("failed to read artifact for verification", err)
		}
	}
	return FormatDigest(h.Sum(nil)) == expected, nil
}

type countingWriter struct {
	dst io.Writer
	n   int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.dst.Write(p)
	cw.n += int64(n)
	if err != nil {
		return n, NewStorageWriteError("failed to write artifact stream", err)
	}
	return n, nil
}

// wrapTransformErr preserves already-typed pipeline errors and types the rest
func wrapTransformErr(err error) error {
	if _, ok := err.(*OrchestrationError); ok {
		return err
	}
	return NewTransformError("artifact stage failed", err)
}
