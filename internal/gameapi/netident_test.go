package gameapi

import (
	"math/rand"
	"net"
	"testing"
)

func TestRandomPublicIP_NeverReserved(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		s := RandomPublicIP(r)
		ip := net.ParseIP(s).To4()
		if ip == nil {
			t.Fatalf("not an ipv4 address: %q", s)
		}
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
			t.Fatalf("reserved address generated: %s", s)
		}
		if ip[0] == 100 && ip[1] >= 64 && ip[1] <= 127 {
			t.Fatalf("cgnat address generated: %s", s)
		}
		if ip[0] >= 224 || ip[0] == 0 {
			t.Fatalf("reserved block generated: %s", s)
		}
	}
}

func TestCredentialsRefreshNetworkKeepsKey(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	c := Credentials{APIKey: "k", Address: "1.1.1.1", UserAgent: "old"}
	n := c.RefreshNetwork(r)
	if n.APIKey != "k" {
		t.Fatalf("api key changed")
	}
	if n.Address == "" || n.UserAgent == "" || n.UserAgent == "old" {
		t.Fatalf("network not refreshed: %+v", n)
	}
	if c.Address != "1.1.1.1" {
		t.Fatalf("receiver mutated")
	}
}
