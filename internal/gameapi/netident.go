package gameapi

import (
	"fmt"
	"math/rand"
)

// Credentials bind a client to one identity: its API key and the simulated
// network identity every request is tagged with.
type Credentials struct {
	APIKey    string
	Address   string
	UserAgent string
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0",
}

// RefreshNetwork returns a copy of c with a new random public address and
// user agent. The API key is unchanged.
func (c Credentials) RefreshNetwork(r *rand.Rand) Credentials {
	c.Address = RandomPublicIP(r)
	c.UserAgent = RandomUserAgent(r)
	return c
}

func RandomUserAgent(r *rand.Rand) string {
	return userAgents[intn(r, len(userAgents))]
}

// RandomPublicIP draws IPv4 addresses until one falls outside private,
// loopback, link-local, CGNAT and multicast/reserved space.
func RandomPublicIP(r *rand.Rand) string {
	for {
		o := [4]int{intn(r, 256), intn(r, 256), intn(r, 256), intn(r, 256)}
		if !isReservedIPv4(o) {
			return fmt.Sprintf("%d.%d.%d.%d", o[0], o[1], o[2], o[3])
		}
	}
}

func isReservedIPv4(o [4]int) bool {
	switch {
	case o[0] == 0, o[0] == 10, o[0] == 127:
		return true
	case o[0] == 172 && o[1] >= 16 && o[1] <= 31:
		return true
	case o[0] == 192 && o[1] == 168:
		return true
	case o[0] == 169 && o[1] == 254:
		return true
	case o[0] == 100 && o[1] >= 64 && o[1] <= 127:
		return true
	case o[0] >= 224:
		return true
	}
	return false
}

func intn(r *rand.Rand, n int) int {
	if r == nil {
		return rand.Intn(n)
	}
	return r.Intn(n)
}
