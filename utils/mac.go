package utils

import (
	"crypto/rand"
	"net"
)

// GenerateMAC generates a random locally-administered unicast MAC address.
// The first byte has bit 1 set (locally administered) and bit 0 clear (unicast).
func GenerateMAC() string {
	var buf [6]byte
	_, _ = rand.Read(buf[:]) // never fails
	buf[0] = (buf[0] | 0x02) & 0xFE
	return net.HardwareAddr(buf[:]).String()
}
