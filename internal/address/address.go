// Package address holds the validated IP address value shared by every
// lookup path.
package address

import (
	"errors"
	"net"
	"net/netip"
)

// ErrInvalidAddress is returned for any literal that is not a plain IPv4 or
// IPv6 address.
var ErrInvalidAddress = errors.New("invalid IP address")

// Address is an IPv4 or IPv6 address that has passed validation.
// The zero value is not a valid address.
type Address struct {
	addr netip.Addr
}

// Parse validates a caller-supplied literal. The literal must be the bare
// address: surrounding whitespace is rejected, as are zoned IPv6 literals
// since a zone has no meaning outside the local host.
func Parse(raw string) (Address, error) {
	if raw == "" {
		return Address{}, ErrInvalidAddress
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return Address{}, ErrInvalidAddress
	}

	return FromAddr(addr)
}

// FromAddr wraps an already parsed address.
func FromAddr(addr netip.Addr) (Address, error) {
	if !addr.IsValid() || addr.Zone() != "" {
		return Address{}, ErrInvalidAddress
	}
	return Address{addr: addr}, nil
}

// IsValid reports whether a was produced by Parse or FromAddr.
func (a Address) IsValid() bool {
	return a.addr.IsValid()
}

// Addr returns the address as parsed.
func (a Address) Addr() netip.Addr {
	return a.addr
}

// IP returns the address in the form the database readers expect.
// IPv4-mapped IPv6 addresses are unmapped to 4 bytes.
func (a Address) IP() net.IP {
	return net.IP(a.addr.Unmap().AsSlice())
}

// Is4 reports whether a is an IPv4 or IPv4-mapped address.
func (a Address) Is4() bool {
	return a.addr.Unmap().Is4()
}

func (a Address) String() string {
	if !a.addr.IsValid() {
		return ""
	}
	return a.addr.String()
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
