// Package util provides small, dependency-light helpers shared by both
// tiers: a keyed hash for the center's dedupe keys, IP/subnet
// classification helpers, and the IPv4-to-uint32 conversion used by the
// feature extractor.
package util

import (
	"crypto/md5" // #nosec G501 -- non-cryptographic use: dedupe/flow keying, not security
	"encoding/hex"
	"errors"
	"net"
	"strings"
)

// FixedString is a 16-byte keyed hash used for the center's dedupe keys.
// It is not a security primitive; collisions only affect dedupe
// precision, bounded by the dedupe TTL.
type FixedString struct {
	Data [16]byte
}

// NewFixedStringHash hashes the concatenation of args.
func NewFixedStringHash(args ...string) (FixedString, error) {
	if len(args) == 0 {
		return FixedString{}, errors.New("no arguments provided")
	}
	joined := strings.Join(args, "")
	if joined == "" {
		return FixedString{}, errors.New("joined string is empty")
	}
	// #nosec G401
	return FixedString{Data: md5.Sum([]byte(joined))}, nil
}

// Hex returns the uppercase hex encoding of the hash.
func (f FixedString) Hex() string {
	return strings.ToUpper(hex.EncodeToString(f.Data[:]))
}

func (f FixedString) String() string {
	return f.Hex()
}

// Subnet wraps net.IPNet for CIDR membership checks.
type Subnet struct {
	*net.IPNet
}

// ParseSubnets parses a list of CIDR or bare-IP strings into Subnets. A bare
// IP gets an implicit /32 (IPv4) or /128 (IPv6) mask.
func ParseSubnets(entries []string) ([]Subnet, error) {
	subnets := make([]Subnet, 0, len(entries))
	for _, entry := range entries {
		_, block, err := net.ParseCIDR(entry)
		if err != nil {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, err
			}
			mask := "/32"
			if ip.To4() == nil {
				mask = "/128"
			}
			_, block, err = net.ParseCIDR(entry + mask)
			if err != nil {
				return nil, err
			}
		}
		subnets = append(subnets, Subnet{block})
	}
	return subnets, nil
}

// ContainsIP reports whether any subnet in the list contains ip.
func ContainsIP(subnets []Subnet, ip net.IP) bool {
	if ipv4 := ip.To4(); ipv4 != nil {
		ip = ipv4
	}
	for _, s := range subnets {
		if s.Contains(ip) {
			return true
		}
	}
	return false
}

var privateBlocks []Subnet

func init() {
	blocks, err := ParseSubnets([]string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fc00::/7",
	})
	if err != nil {
		panic("util: failed to parse built-in private subnets: " + err.Error())
	}
	privateBlocks = blocks
}

// IPIsPubliclyRoutable reports whether ip is outside loopback, link-local,
// multicast, and RFC1918/ULA private ranges.
func IPIsPubliclyRoutable(ip net.IP) bool {
	if ipv4 := ip.To4(); ipv4 != nil {
		ip = ipv4
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return false
	}
	return !ContainsIP(privateBlocks, ip)
}

// ContainsDomain reports whether host matches an entry in domains, including
// "*.suffix" wildcard entries (which also match the bare suffix).
func ContainsDomain(domains []string, host string) bool {
	for _, entry := range domains {
		if strings.Contains(entry, "*") {
			wildcard := strings.TrimPrefix(entry, "*")
			if strings.HasSuffix(host, wildcard) {
				return true
			}
			if host == strings.TrimPrefix(wildcard, ".") {
				return true
			}
		} else if host == entry {
			return true
		}
	}
	return false
}

// IPv4ToUint32 converts an IPv4 address to its big-endian 32-bit integer
// representation. Non-IPv4 addresses (including unparsable strings) return 0.
func IPv4ToUint32(ip string) uint32 {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0
	}
	v4 := parsed.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}
