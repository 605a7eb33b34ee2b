package filter

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/item"
	"github.com/rs/zerolog"
)

// IPv4Filtrator keeps items whose address leaf lies inside a configured prefix
type IPv4Filtrator struct {
	field   item.Field
	network uint32
	mask    uint32
}

func newIPv4Filtrator(conf cfg.FilterConfiguration, field item.Field, _ zerolog.Logger) (Filtrator, error) {
	if conf.Prefix == nil {
		return nil, configError(conf.Kind, "prefix is required", nil)
	}
	addr, bits, err := parsePrefix(*conf.Prefix, 32)
	if err != nil {
		return nil, configError(conf.Kind, "bad prefix", err)
	}
	v4 := addr.To4()
	if v4 == nil {
		return nil, configError(conf.Kind, "not an IPv4 address: "+*conf.Prefix, nil)
	}

	var mask uint32
	if bits > 0 {
		mask = ^uint32(0) << (32 - bits)
	}
	return &IPv4Filtrator{
		field:   field,
		network: binary.BigEndian.Uint32(v4) & mask,
		mask:    mask,
	}, nil
}

// IsFiltered implements Filtrator
func (f *IPv4Filtrator) IsFiltered(u *item.UnderlayItem) bool {
	v, ok := f.field.Value(u)
	if !ok {
		return true
	}
	ip := net.ParseIP(hostPart(stringForm(v)))
	if ip == nil {
		return true
	}
	v4 := ip.To4()
	if v4 == nil {
		return true
	}
	return binary.BigEndian.Uint32(v4)&f.mask != f.network
}

// IPv6Filtrator is the 128-bit counterpart of IPv4Filtrator
type IPv6Filtrator struct {
	field   item.Field
	network [16]byte
	mask    [16]byte
}

func newIPv6Filtrator(conf cfg.FilterConfiguration, field item.Field, _ zerolog.Logger) (Filtrator, error) {
	if conf.Prefix == nil {
		return nil, configError(conf.Kind, "prefix is required", nil)
	}
	addr, bits, err := parsePrefix(*conf.Prefix, 128)
	if err != nil {
		return nil, configError(conf.Kind, "bad prefix", err)
	}
	if addr.To4() != nil {
		return nil, configError(conf.Kind, "not an IPv6 address: "+*conf.Prefix, nil)
	}

	f := &IPv6Filtrator{field: field, mask: mask128(bits)}
	v6 := addr.To16()
	for i := range f.network {
		f.network[i] = v6[i] & f.mask[i]
	}
	return f, nil
}

// IsFiltered implements Filtrator
func (f *IPv6Filtrator) IsFiltered(u *item.UnderlayItem) bool {
	v, ok := f.field.Value(u)
	if !ok {
		return true
	}
	ip := net.ParseIP(hostPart(stringForm(v)))
	if ip == nil || ip.To4() != nil {
		return true
	}
	v6 := ip.To16()
	for i := range f.network {
		if v6[i]&f.mask[i] != f.network[i] {
			return true
		}
	}
	return false
}

// mask128 builds a 128-bit mask with the first bits set
func mask128(bits int) [16]byte {
	var m [16]byte
	for i := 0; i < 16 && bits > 0; i++ {
		if bits >= 8 {
			m[i] = 0xff
			bits -= 8
			continue
		}
		m[i] = ^byte(0) << (8 - bits)
		bits = 0
	}
	return m
}

// parsePrefix parses "address/length" with 0 <= length <= maxBits
func parsePrefix(s string, maxBits int) (net.IP, int, error) {
	addrPart, lenPart, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		return nil, 0, fmt.Errorf("missing prefix length in %q", s)
	}
	ip := net.ParseIP(addrPart)
	if ip == nil {
		return nil, 0, fmt.Errorf("malformed address %q", addrPart)
	}
	bits, err := strconv.Atoi(lenPart)
	if err != nil || bits < 0 || bits > maxBits {
		return nil, 0, fmt.Errorf("prefix length must be 0..%d, got %q", maxBits, lenPart)
	}
	return ip, bits, nil
}

// hostPart strips an optional "/len" suffix from a candidate address
func hostPart(s string) string {
	if host, _, found := strings.Cut(s, "/"); found {
		return host
	}
	return s
}
