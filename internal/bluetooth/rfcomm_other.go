//go:build !linux

package bluetooth

import (
	"context"
	"io"
)

// Dial always fails with ErrUnsupported; use SerialDialer instead.
func (d *RFCOMMDialer) Dial(_ context.Context, _ string) (io.ReadWriteCloser, error) {
	return nil, ErrUnsupported
}
