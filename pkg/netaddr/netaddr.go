// Package netaddr parses CIDR ranges and tests IPv4/IPv6 address membership.
//
// Addresses are reduced to fixed-width integers (one uint32 for IPv4, eight 16-bit
// groups for IPv6) and compared under a prefix mask:
//
//	(addr & mask) == (base & mask)
//
// IPv4-mapped IPv6 addresses (::ffff:a.b.c.d) are normalized to plain IPv4 before
// matching, so they match exactly the ranges their embedded IPv4 address matches.
package netaddr

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Family is the IP version of an address or range.
type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

var (
	// ErrInvalidAddress is returned for text that is not an IPv4 or IPv6 address.
	ErrInvalidAddress = errors.New("netaddr: invalid address")
	// ErrInvalidRange is returned for text that is not a CIDR range.
	ErrInvalidRange = errors.New("netaddr: invalid range")
)

// Addr is a normalized IP address.
type Addr struct {
	family Family
	v4     uint32
	v6     [8]uint16
}

// Family returns the IP version of a.
func (a Addr) Family() Family { return a.family }

// IsValid reports whether a was produced by ParseAddr.
func (a Addr) IsValid() bool { return a.family != 0 }

// String renders a in canonical form.
func (a Addr) String() string {
	switch a.family {
	case IPv4:
		return fmt.Sprintf("%d.%d.%d.%d", byte(a.v4>>24), byte(a.v4>>16), byte(a.v4>>8), byte(a.v4))
	case IPv6:
		var b [16]byte
		for i, g := range a.v6 {
			b[2*i] = byte(g >> 8)
			b[2*i+1] = byte(g)
		}
		return netip.AddrFrom16(b).String()
	}
	return "invalid"
}

// ParseAddr parses an IPv4 dotted quad or an IPv6 address (with :: compression).
// Zones are dropped and IPv4-mapped IPv6 is unwrapped to IPv4.
func ParseAddr(s string) (Addr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Addr{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	// Bracketed IPv6 as found in Host headers and some proxies.
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = s[1 : len(s)-1]
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return fromNetip(ip.WithZone("").Unmap()), nil
}

func fromNetip(ip netip.Addr) Addr {
	if ip.Is4() {
		b := ip.As4()
		return Addr{
			family: IPv4,
			v4:     uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]),
		}
	}
	b := ip.As16()
	a := Addr{family: IPv6}
	for i := range a.v6 {
		a.v6[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return a
}

// Range is a parsed CIDR range with its base already masked.
type Range struct {
	family Family
	bits   int
	v4     uint32
	v4Mask uint32
	v6     [8]uint16
	v6Mask [8]uint16
	text   string
}

// Family returns the IP version of the range.
func (r Range) Family() Family { return r.family }

// Bits returns the prefix length.
func (r Range) Bits() int { return r.bits }

// String returns the range as it was written.
func (r Range) String() string { return r.text }

// ParseRange parses "base/prefixLength". A bare address is treated as a single-host
// range (/32 or /128). An IPv4-mapped IPv6 range with a prefix of at least 96 bits
// is normalized to the equivalent IPv4 range.
func ParseRange(cidr string) (Range, error) {
	text := strings.TrimSpace(cidr)
	if text == "" {
		return Range{}, fmt.Errorf("%w: empty", ErrInvalidRange)
	}

	baseText, bitsText, hasBits := strings.Cut(text, "/")
	ip, err := netip.ParseAddr(baseText)
	if err != nil || ip.Zone() != "" {
		return Range{}, fmt.Errorf("%w: bad base address in %q", ErrInvalidRange, text)
	}

	maxBits := 32
	if ip.Is6() {
		maxBits = 128
	}
	bits := maxBits
	if hasBits {
		bits, err = strconv.Atoi(bitsText)
		if err != nil || bits < 0 || bits > maxBits || strings.HasPrefix(bitsText, "+") {
			return Range{}, fmt.Errorf("%w: bad prefix length in %q", ErrInvalidRange, text)
		}
	}

	if ip.Is4In6() && bits >= 96 {
		ip = ip.Unmap()
		bits -= 96
	}

	base := fromNetip(ip)
	r := Range{family: base.family, bits: bits, text: text}
	switch base.family {
	case IPv4:
		r.v4Mask = v4Mask(bits)
		r.v4 = base.v4 & r.v4Mask
	case IPv6:
		r.v6Mask = v6Mask(bits)
		for i := range r.v6 {
			r.v6[i] = base.v6[i] & r.v6Mask[i]
		}
	}
	return r, nil
}

// MustParseRange is ParseRange for literals known to be valid.
func MustParseRange(cidr string) Range {
	r, err := ParseRange(cidr)
	if err != nil {
		panic(err)
	}
	return r
}

func v4Mask(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	return ^uint32(0) << (32 - bits)
}

func v6Mask(bits int) [8]uint16 {
	var m [8]uint16
	for i := range m {
		groupBits := bits - 16*i
		switch {
		case groupBits >= 16:
			m[i] = 0xFFFF
		case groupBits > 0:
			m[i] = ^uint16(0) << (16 - groupBits)
		}
	}
	return m
}

// Contains reports whether a lies inside r. Addresses never match a range of the
// other IP version.
func (r Range) Contains(a Addr) bool {
	if !a.IsValid() || a.family != r.family {
		return false
	}
	if r.family == IPv4 {
		return a.v4&r.v4Mask == r.v4
	}
	for i := range a.v6 {
		if a.v6[i]&r.v6Mask[i] != r.v6[i] {
			return false
		}
	}
	return true
}

// Matches parses ip and tests it against r. Malformed input never matches.
func Matches(ip string, r Range) bool {
	a, err := ParseAddr(ip)
	if err != nil {
		return false
	}
	return r.Contains(a)
}

// Set is an ordered list of ranges.
type Set []Range

// ParseSet parses every CIDR in cidrs. Invalid entries are returned in errs and
// left out of the set, so one bad literal does not disable the others.
func ParseSet(cidrs []string) (set Set, errs []error) {
	for _, c := range cidrs {
		r, err := ParseRange(c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set = append(set, r)
	}
	return set, errs
}

// Match returns the first range containing a.
func (s Set) Match(a Addr) (Range, bool) {
	for _, r := range s {
		if r.Contains(a) {
			return r, true
		}
	}
	return Range{}, false
}
