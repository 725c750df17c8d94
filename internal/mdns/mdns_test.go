package mdns

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestCleanInstance(t *testing.T) {
	if got := cleanInstance(`iiod\ on\ pluto`); got != "iiod on pluto" {
		t.Fatalf("unexpected instance %q", got)
	}
}

func TestHostAddrPrefersIPv4(t *testing.T) {
	h := Host{
		Hostname:  "pluto.local.",
		Addresses: []net.IP{net.ParseIP("fe80::1"), net.ParseIP("192.168.2.1")},
		Port:      30431,
	}
	if got := h.Addr(); got != "192.168.2.1:30431" {
		t.Fatalf("Addr() = %q", got)
	}
}

func TestHostAddrFallsBackToHostname(t *testing.T) {
	h := Host{Hostname: "rtl.local.", Port: 1234}
	if got := h.Addr(); got != "rtl.local:1234" {
		t.Fatalf("Addr() = %q", got)
	}
}

func TestFromEntryMergesAddresses(t *testing.T) {
	e := zeroconf.NewServiceEntry(`rtl\ dongle`, "_rtl_tcp._tcp", "local.")
	e.HostName = "rtl.local."
	e.Port = 1234
	e.AddrIPv4 = []net.IP{net.ParseIP("10.0.0.5")}
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::5")}
	e.Text = []string{"tuner=R820T"}

	h := fromEntry(e)
	if h.Instance != "rtl dongle" || len(h.Addresses) != 2 || h.TXT[0] != "tuner=R820T" {
		t.Fatalf("unexpected host %+v", h)
	}
}
