//go:build linux && !baremetal

// Package tapdev implements the guest-facing side of the router's shared
// frame channel (spec §2 "The guest attaches to a shared-memory datagram
// channel") as a Linux tap(4) device: a fresh tap interface delivers one
// complete Ethernet-II frame per Read and accepts one per Write, exactly
// the semantics vrouter.GuestChannel requires. The ioctl calls go through
// golang.org/x/sys/unix rather than the bare syscall package.
package tapdev

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/groundwater/ghostvm-vnet/addr"
)

// Device is one open tap interface.
type Device struct {
	fd   int
	name string
}

// Open creates (or attaches to) the named tap interface and brings it up.
// The caller is responsible for assigning the host side of the link its own
// address; the router owns only the guest-facing frame stream.
func Open(name string) (*Device, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, errors.New("tapdev: interface name too long")
	}
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tapdev: opening /dev/net/tun: %w", err)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tapdev: building ifreq for %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tapdev: TUNSETIFF: %w", err)
	}
	return &Device{fd: fd, name: name}, nil
}

// Name returns the interface name that was passed to Open.
func (d *Device) Name() string { return d.name }

// ReadFrame blocks until one Ethernet frame is available from the guest and
// copies it into buf, returning its length.
func (d *Device) ReadFrame(buf []byte) (int, error) {
	return unix.Read(d.fd, buf)
}

// WriteFrame writes one complete Ethernet frame to the guest.
func (d *Device) WriteFrame(frame []byte) error {
	n, err := unix.Write(d.fd, frame)
	if err != nil {
		return fmt.Errorf("tapdev: write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("tapdev: short write: wrote %d of %d bytes", n, len(frame))
	}
	return nil
}

// Close releases the underlying file descriptor.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// HardwareAddress queries the MAC address the kernel assigned this
// interface, used to seed the gateway's known peer address space.
func (d *Device) HardwareAddress() (addr.MAC, error) {
	sock, err := d.ctrlSocket()
	if err != nil {
		return addr.MAC{}, err
	}
	defer unix.Close(sock)

	ifr := makeifreq(d.name)
	if err := ioctl(sock, unix.SIOCGIFHWADDR, ifr.ptr()); err != nil {
		return addr.MAC{}, fmt.Errorf("tapdev: SIOCGIFHWADDR: %w", err)
	}
	var mac addr.MAC
	copy(mac[:], ifr.data[2:8]) // first two bytes of the union are sa_family.
	return mac, nil
}

// MTU queries the interface's current MTU.
func (d *Device) MTU() (int, error) {
	sock, err := d.ctrlSocket()
	if err != nil {
		return 0, err
	}
	defer unix.Close(sock)

	ifr := makeifreq(d.name)
	if err := ioctl(sock, unix.SIOCGIFMTU, ifr.ptr()); err != nil {
		return 0, fmt.Errorf("tapdev: SIOCGIFMTU: %w", err)
	}
	return int(*(*int32)(unsafe.Pointer(&ifr.data[0]))), nil
}

func (d *Device) ctrlSocket() (int, error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, fmt.Errorf("tapdev: opening control socket: %w", err)
	}
	return sock, nil
}

// ioctl issues SIOCGIFHWADDR/SIOCGIFMTU, the two queries unix.Ifreq has no
// typed accessor for: both return data past the union's leading bytes that
// unix.NewIfreq deliberately doesn't expose generically.
func ioctl(fd int, request uint, argp unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), uintptr(argp))
	if errno != 0 {
		return fmt.Errorf("ioctl: %w", errno)
	}
	return nil
}

type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data [64]byte
}

func makeifreq(name string) ifreq {
	var ifr ifreq
	copy(ifr.name[:], name)
	return ifr
}

func (ifr *ifreq) ptr() unsafe.Pointer { return unsafe.Pointer(ifr) }
