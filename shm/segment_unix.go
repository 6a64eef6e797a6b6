//go:build unix

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// createSegment maps a fresh segment file of size bytes. Any stale file with
// the same name is unlinked first so a reader still mapping the old one is
// never truncated underneath.
func createSegment(dir, name string, size int) (*Segment, error) {
	path := Path(dir, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("removing stale segment %s: %w", name, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating segment %s: %w", name, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("sizing segment %s: %w", name, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("mapping segment %s: %w", name, err)
	}

	return &Segment{name: name, path: path, mem: mem, owner: true}, nil
}

// openSegment maps an existing, ready segment of the given kind. A missing,
// undersized or not yet ready segment reports ErrNotReady.
func openSegment(dir, name string, kind Kind) (*Segment, error) {
	path := Path(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotReady
		}
		return nil, fmt.Errorf("opening segment %s: %w", name, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment %s: %w", name, err)
	}
	if fi.Size() < headerSize {
		return nil, ErrNotReady
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapping segment %s: %w", name, err)
	}

	s := &Segment{name: name, path: path, mem: mem}
	if !s.ready() {
		unix.Munmap(mem)
		return nil, ErrNotReady
	}
	if s.kind() != kind {
		got := s.kind()
		unix.Munmap(mem)
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrKind, name, got, kind)
	}
	return s, nil
}

// Close unmaps the segment. The owner also unlinks the backing file.
func (s *Segment) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	if s.owner {
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	return err
}
