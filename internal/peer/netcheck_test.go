package peer

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRestrictive(t *testing.T) {
	lan := []net.IP{net.ParseIP("192.168.1.20")}

	assert.False(t, restrictive("eth0", lan))
	assert.False(t, restrictive("en0", nil))
	assert.True(t, restrictive("wg0", lan))
	assert.True(t, restrictive("utun3", nil))
	assert.True(t, restrictive("CloudflareWARP", nil))
	assert.True(t, restrictive("eth0", []net.IP{net.ParseIP("100.100.1.7")}))
	assert.False(t, restrictive("eth0", []net.IP{net.ParseIP("100.128.0.1")}))
}
