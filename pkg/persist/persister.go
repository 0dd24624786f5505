package persist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Permissions for persisted files and their directories.
const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// tempMarker is embedded in temp file names so directory listings can skip them.
const tempMarker = ".tmp."

// ErrDecode marks a file that exists but cannot be decoded.
var ErrDecode = errors.New("decode state")

// IsTempName reports whether name belongs to an in-progress atomic write.
func IsTempName(name string) bool {
	return strings.Contains(name, tempMarker)
}

// WriteFileAtomic encodes state into a temp file next to path, syncs it and
// renames it over path. A crash leaves either the old file or the new one,
// plus at most a stray temp file.
func WriteFileAtomic(path string, codec Codec, state any) error {
	return WriteAtomic(path, func(w io.Writer) error {
		err := codec.Encode(w, state)
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}

		return nil
	})
}

// WriteAtomic is WriteFileAtomic for callers that produce raw bytes: write
// fills the temp file, which replaces path only if write succeeds.
func WriteAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+tempMarker+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	buf := bufio.NewWriter(tmp)

	err = write(buf)
	if err != nil {
		return err
	}

	err = buf.Flush()
	if err != nil {
		return fmt.Errorf("flush state: %w", err)
	}

	err = tmp.Chmod(filePerm)
	if err != nil {
		return fmt.Errorf("chmod state file: %w", err)
	}

	err = tmp.Sync()
	if err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close state file: %w", err)
	}

	err = os.Rename(tmpName, path)
	if err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}

	committed = true

	return nil
}

// ReadFile decodes the file at path into state, which must be a pointer.
// Decoding failures wrap [ErrDecode]; open failures are returned as is
// so callers can test them with [os.IsNotExist].
func ReadFile(path string, codec Codec, state any) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	err = codec.Decode(bufio.NewReader(file), state)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrDecode, path, err)
	}

	return nil
}

// Persister handles I/O for a specific state type using a Codec.
type Persister[T any] struct {
	codec Codec
}

// NewPersister creates a persister with the given codec.
func NewPersister[T any](codec Codec) *Persister[T] {
	return &Persister[T]{codec: codec}
}

// Codec returns the persister's codec.
func (p *Persister[T]) Codec() Codec {
	return p.codec
}

// Save atomically writes state to path.
func (p *Persister[T]) Save(path string, state T) error {
	return WriteFileAtomic(path, p.codec, state)
}

// Load reads a T from path.
func (p *Persister[T]) Load(path string) (T, error) {
	var state T

	err := ReadFile(path, p.codec, &state)
	if err != nil {
		var zero T

		return zero, err
	}

	return state, nil
}
