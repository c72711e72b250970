package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// encryptionChunkSize is the plaintext size sealed per AES-GCM frame
	encryptionChunkSize = 64 * 1024
	// encryptionNonceSize is the AES-GCM nonce size in bytes
	encryptionNonceSize = 12
)

// Encryptor provides streaming AES-256-GCM encryption for artifact pipelines.
// The stream layout is a 12-byte random nonce base followed by length-prefixed
// sealed frames. Each frame nonce is the base XORed with the frame counter, so
// frames cannot be reordered or replayed across streams. A zero-length frame
// terminates the stream; its absence means truncation.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an encryptor with the given AES-256 key
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, NewValidationError(fmt.Sprintf("encryption key must be 32 bytes for AES-256, got %d bytes", len(key)), nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewTransformError("failed to create AES cipher", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewTransformError("failed to create GCM cipher", err)
	}

	return &Encryptor{aead: aead}, nil
}

// NewEncryptorFromConfig creates an encryptor using the configured key source
func NewEncryptorFromConfig(config EncryptionConfig) (*Encryptor, error) {
	if !config.Enabled {
		return nil, nil
	}
	key, err := config.GetEncryptionKey()
	if err != nil {
		return nil, NewConfigurationError("failed to retrieve encryption key", err)
	}
	return NewEncryptor(key)
}

// NewWriter wraps w so that written plaintext is sealed in chunked frames.
// Close must be called to flush the final frame and the terminator.
func (e *Encryptor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	nonceBase := make([]byte, encryptionNonceSize)
	if _, err := rand.Read(nonceBase); err != nil {
		return nil, NewTransformError("failed to generate nonce", err)
	}
	if _, err := w.Write(nonceBase); err != nil {
		return nil, NewStorageWriteError("failed to write encryption header", err)
	}

	return &encryptWriter{
		aead:      e.aead,
		dst:       w,
		nonceBase: nonceBase,
	}, nil
}

// NewReader wraps r so that reads return verified plaintext
func (e *Encryptor) NewReader(r io.Reader) (io.ReadCloser, error) {
	nonceBase := make([]byte, encryptionNonceSize)
	if _, err := io.ReadFull(r, nonceBase); err != nil {
		return nil, NewStorageReadError("failed to read encryption header", err)
	}

	return &decryptReader{
		aead:      e.aead,
		src:       r,
		nonceBase: nonceBase,
	}, nil
}

type encryptWriter struct {
	aead      cipher.AEAD
	dst       io.Writer
	nonceBase []byte
	counter   uint64
	buf       bytes.Buffer
	closed    bool
}

func (ew *encryptWriter) Write(p []byte) (int, error) {
	if ew.closed {
		return 0, NewTransformError("write to closed encryption stream", nil)
	}
	total := len(p)
	for len(p) > 0 {
		room := encryptionChunkSize - ew.buf.Len()
		if room > len(p) {
			room = len(p)
		}
		ew.buf.Write(p[:room])
		p = p[room:]
		if ew.buf.Len() == encryptionChunkSize {
			if err := ew.flushChunk(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

func (ew *encryptWriter) Close() error {
	if ew.closed {
		return nil
	}
	ew.closed = true
	if ew.buf.Len() > 0 {
		if err := ew.flushChunk(); err != nil {
			return err
		}
	}
	// zero-length terminator marks clean end of stream
	var lenBuf [4]byte
	if _, err := ew.dst.Write(lenBuf[:]); err != nil {
		return NewStorageWriteError("failed to write encryption terminator", err)
	}
	return nil
}

func (ew *encryptWriter) flushChunk() error {
	nonce := frameNonce(ew.nonceBase, ew.counter)
	ew.counter++

	sealed := ew.aead.Seal(nil, nonce, ew.buf.Bytes(), nil)
	ew.buf.Reset()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
	if _, err := ew.dst.Write(lenBuf[:]); err != nil {
		return NewStorageWriteError("failed to write frame length", err)
	}
	if _, err := ew.dst.Write(sealed); err != nil {
		return NewStorageWriteError("failed to write sealed frame", err)
	}
	return nil
}

type decryptReader struct {
	aead      cipher.AEAD
	src       io.Reader
	nonceBase []byte
	counter   uint64
	plain     bytes.Reader
	done      bool
}

func (dr *decryptReader) Read(p []byte) (int, error) {
	for dr.plain.Len() == 0 {
		if dr.done {
			return 0, io.EOF
		}
		if err := dr.nextFrame(); err != nil {
			return 0, err
		}
	}
	return dr.plain.Read(p)
}

func (dr *decryptReader) Close() error { return nil }

func (dr *decryptReader) nextFrame() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(dr.src, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return NewTransformError("encrypted stream truncated before terminator", err)
		}
		return NewStorageReadError("failed to read frame length", err)
	}

	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen == 0 {
		dr.done = true
		return nil
	}
	if frameLen > encryptionChunkSize+uint32(dr.aead.Overhead()) {
		return NewTransformError(fmt.Sprintf("encrypted frame length %d exceeds maximum", frameLen), nil)
	}

	sealed := make([]byte, frameLen)
	if _, err := io.ReadFull(dr.src, sealed); err != nil {
		return NewTransformError("encrypted stream truncated mid-frame", err)
	}

	nonce := frameNonce(dr.nonceBase, dr.counter)
	dr.counter++

	plain, err := dr.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return NewTransformError("failed to authenticate encrypted frame", err)
	}
	dr.plain.Reset(plain)
	return nil
}

// frameNonce derives the per-frame nonce from the base and frame counter
func frameNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, encryptionNonceSize)
	copy(nonce, base)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)
	for i := 0; i < 8; i++ {
		nonce[encryptionNonceSize-8+i] ^= ctr[i]
	}
	return nonce
}

// GenerateEncryptionKey generates a random 32-byte key for AES-256
func GenerateEncryptionKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, NewTransformError("failed to generate encryption key", err)
	}
	return key, nil
}
