package netaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		family  Family
		want    string
		wantErr bool
	}{
		{name: "ipv4", input: "203.0.113.5", family: IPv4, want: "203.0.113.5"},
		{name: "ipv4 with spaces", input: "  10.0.0.1 ", family: IPv4, want: "10.0.0.1"},
		{name: "ipv6 compressed", input: "2001:db8::1", family: IPv6, want: "2001:db8::1"},
		{name: "ipv6 loopback", input: "::1", family: IPv6, want: "::1"},
		{name: "ipv6 bracketed", input: "[2001:db8::2]", family: IPv6, want: "2001:db8::2"},
		{name: "ipv6 with zone", input: "fe80::1%eth0", family: IPv6, want: "fe80::1"},
		{name: "ipv4 mapped ipv6", input: "::ffff:203.0.113.5", family: IPv4, want: "203.0.113.5"},
		{name: "ipv4 mapped ipv6 hex", input: "::ffff:cb00:7105", family: IPv4, want: "203.0.113.5"},
		{name: "three octets", input: "10.0.0", wantErr: true},
		{name: "five octets", input: "10.0.0.0.1", wantErr: true},
		{name: "byte out of range", input: "10.0.0.256", wantErr: true},
		{name: "double compression", input: "2001::db8::1", wantErr: true},
		{name: "too many groups", input: "1:2:3:4:5:6:7:8:9", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "garbage", input: "not-an-ip", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAddr(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddress)
				assert.False(t, a.IsValid())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.family, a.Family())
			assert.Equal(t, tt.want, a.String())
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		family  Family
		bits    int
		wantErr bool
	}{
		{name: "ipv4 /24", input: "192.168.1.0/24", family: IPv4, bits: 24},
		{name: "ipv4 unaligned base", input: "192.168.1.77/24", family: IPv4, bits: 24},
		{name: "ipv4 /0", input: "0.0.0.0/0", family: IPv4, bits: 0},
		{name: "ipv4 bare host", input: "10.1.2.3", family: IPv4, bits: 32},
		{name: "ipv6 /32", input: "2001:db8::/32", family: IPv6, bits: 32},
		{name: "ipv6 bare host", input: "2001:db8::1", family: IPv6, bits: 128},
		{name: "ipv4 mapped range", input: "::ffff:10.0.0.0/104", family: IPv4, bits: 8},
		{name: "prefix too long v4", input: "10.0.0.0/33", wantErr: true},
		{name: "prefix too long v6", input: "::/129", wantErr: true},
		{name: "negative prefix", input: "10.0.0.0/-1", wantErr: true},
		{name: "non numeric prefix", input: "10.0.0.0/abc", wantErr: true},
		{name: "bad base", input: "10.0.0/8", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRange(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.family, r.Family())
			assert.Equal(t, tt.bits, r.Bits())
			assert.Equal(t, tt.input, r.String())
		})
	}
}

func TestRange_ContainsIPv4(t *testing.T) {
	r := MustParseRange("192.168.1.0/24")

	assert.True(t, Matches("192.168.1.0", r))
	assert.True(t, Matches("192.168.1.255", r))
	assert.False(t, Matches("192.168.2.0", r))
	assert.False(t, Matches("192.168.0.255", r))

	odd := MustParseRange("10.0.0.0/13")
	assert.True(t, Matches("10.7.255.255", odd))
	assert.False(t, Matches("10.8.0.0", odd))

	all := MustParseRange("0.0.0.0/0")
	assert.True(t, Matches("255.255.255.255", all))
	assert.False(t, Matches("::1", all), "v6 address never matches v4 range")
}

func TestRange_ContainsIPv6(t *testing.T) {
	r := MustParseRange("2001:db8::/32")

	assert.True(t, Matches("2001:db8::1", r))
	assert.True(t, Matches("2001:db8:ffff:ffff:ffff:ffff:ffff:ffff", r))
	assert.False(t, Matches("2001:db9::1", r))
	assert.False(t, Matches("10.0.0.1", r), "v4 address never matches v6 range")

	// prefix boundary inside a 16-bit group
	nibble := MustParseRange("2001:db8:abc0::/44")
	assert.True(t, Matches("2001:db8:abcf::1", nibble))
	assert.False(t, Matches("2001:db8:abd0::1", nibble))

	all := MustParseRange("::/0")
	assert.True(t, Matches("fe80::1", all))
}

func TestRange_MappedIPv4Normalized(t *testing.T) {
	r := MustParseRange("203.0.113.0/24")

	assert.True(t, Matches("203.0.113.5", r))
	assert.True(t, Matches("::ffff:203.0.113.5", r))
	assert.Equal(t, Matches("198.51.100.1", r), Matches("::ffff:198.51.100.1", r))

	mapped := MustParseRange("::ffff:203.0.113.0/120")
	assert.True(t, Matches("203.0.113.9", mapped))
}

func TestMatches_MalformedNeverMatches(t *testing.T) {
	r := MustParseRange("0.0.0.0/0")
	for _, bad := range []string{"", "1.2.3", "1.2.3.4.5", "300.1.1.1", "1::2::3", "hello"} {
		assert.False(t, Matches(bad, r), bad)
	}
}

// Contains must agree with a bit-by-bit prefix comparison.
func TestRange_PrefixProperty(t *testing.T) {
	addrs := []string{"0.0.0.0", "10.20.30.40", "10.20.31.40", "128.0.0.1", "255.255.255.255"}
	for bits := 0; bits <= 32; bits++ {
		for _, base := range addrs {
			r := MustParseRange(base + "/" + itoa(bits))
			baseAddr, _ := ParseAddr(base)
			for _, s := range addrs {
				a, _ := ParseAddr(s)
				want := samePrefix(a.v4, baseAddr.v4, bits)
				assert.Equal(t, want, r.Contains(a), "%s in %s/%d", s, base, bits)
			}
		}
	}
}

func samePrefix(a, b uint32, bits int) bool {
	for i := 0; i < bits; i++ {
		shift := 31 - i
		if (a>>shift)&1 != (b>>shift)&1 {
			return false
		}
	}
	return true
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}

func TestParseSet(t *testing.T) {
	set, errs := ParseSet([]string{"10.0.0.0/8", "bogus", "2001:db8::/32"})
	require.Len(t, set, 2)
	require.Len(t, errs, 1)

	a, err := ParseAddr("10.9.9.9")
	require.NoError(t, err)
	r, ok := set.Match(a)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.0/8", r.String())

	b, err := ParseAddr("192.0.2.1")
	require.NoError(t, err)
	_, ok = set.Match(b)
	assert.False(t, ok)
}
