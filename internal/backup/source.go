package backup

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Source provides the byte stream to back up. Open returns a fresh stream
// per call; the reader distinguishes normal end-of-stream from failure via
// its Close and Read errors.
type Source interface {
	// ID returns the stable source identifier used in artifact IDs and the
	// run lock
	ID() string

	// Open starts producing the dump stream
	Open(ctx context.Context) (io.ReadCloser, error)
}

// NewSource creates a source from its configuration
func NewSource(config SourceConfig) (Source, error) {
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid source configuration", err)
	}

	switch config.Type {
	case "file":
		return NewFileSource(config.ID, config.Path), nil
	case "mysql":
		return NewMySQLDumpSource(config.ID, config.DSN), nil
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported source type: %s", config.Type), nil)
	}
}

// FileSource streams a file or named pipe from the local file system
type FileSource struct {
	id   string
	path string
}

// NewFileSource creates a source reading from path
func NewFileSource(id, path string) *FileSource {
	return &FileSource{id: id, path: path}
}

// ID returns the source identifier
func (fs *FileSource) ID() string {
	return fs.id
}

// Open opens the file for reading
func (fs *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(fs.path)
	if err != nil {
		return nil, NewSourceReadError(fmt.Sprintf("failed to open source file %s", fs.path), err)
	}
	return file, nil
}
