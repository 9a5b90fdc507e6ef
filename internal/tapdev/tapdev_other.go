//go:build !linux || tinygo

package tapdev

import (
	"errors"

	"github.com/groundwater/ghostvm-vnet/addr"
)

// Device is a no-op stand-in on platforms without tap(4) support.
type Device struct{}

func Open(name string) (*Device, error) {
	return nil, errors.ErrUnsupported
}

func (d *Device) Name() string                       { return "" }
func (d *Device) ReadFrame(buf []byte) (int, error)   { return -1, errors.ErrUnsupported }
func (d *Device) WriteFrame(frame []byte) error       { return errors.ErrUnsupported }
func (d *Device) Close() error                        { return errors.ErrUnsupported }
func (d *Device) HardwareAddress() (addr.MAC, error)  { return addr.MAC{}, errors.ErrUnsupported }
func (d *Device) MTU() (int, error)                   { return -1, errors.ErrUnsupported }
