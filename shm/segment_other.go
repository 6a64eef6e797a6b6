//go:build !unix

package shm

import "errors"

func createSegment(dir, name string, size int) (*Segment, error) {
	return nil, errors.ErrUnsupported
}

func openSegment(dir, name string, kind Kind) (*Segment, error) {
	return nil, errors.ErrUnsupported
}

// Close is a no-op where segments cannot be created.
func (s *Segment) Close() error {
	return nil
}
