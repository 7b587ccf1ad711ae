package object

import (
	"fmt"
	"strings"
)

// Handle locates a staged object as scheme://bucket/key.
type Handle struct {
	Scheme string
	Bucket string
	Key    string
}

// String encodes the handle.
func (h Handle) String() string {
	return fmt.Sprintf("%s://%s/%s", h.Scheme, h.Bucket, h.Key)
}

// ParseHandle splits a scheme://bucket/key location. It does no I/O.
func ParseHandle(s string) (Handle, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}

	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}

	return Handle{Scheme: scheme, Bucket: bucket, Key: key}, nil
}
