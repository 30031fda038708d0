//go:build !windows

package outlookbridge

import (
	"errors"

	"icloudsyncd/internal/model"
)

// stubHost is the comHost used on every platform other than Windows, since
// the automation interface this bridge drives is Windows-only. It always
// reports HostUnavailable so the attach state machine, worker affinity and
// the rest of the package are still exercised and testable off-Windows.
type stubHost struct{}

func newPlatformHost() comHost {
	return &stubHost{}
}

func (stubHost) CreateInstance() error {
	return errors.New("outlookbridge: automation host unavailable on this platform")
}

func (stubHost) FetchAppointments(Window) ([]model.Appointment, error) {
	return nil, errors.New("outlookbridge: automation host unavailable on this platform")
}

func (stubHost) Release() {}
