package sdr

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

type rtltcpCommand struct {
	code  uint8
	param uint32
}

// startRTLTCPMock serves the rtl_tcp greeting, records commands and writes
// payload once release is closed.
func startRTLTCPMock(t *testing.T, payload []byte, release <-chan struct{}) (string, <-chan rtltcpCommand) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	cmds := make(chan rtltcpCommand, 16)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		header := make([]byte, 12)
		copy(header, "RTL0")
		binary.BigEndian.PutUint32(header[4:], 5) // R820T
		binary.BigEndian.PutUint32(header[8:], 29)
		if _, err := conn.Write(header); err != nil {
			return
		}

		go func() {
			var raw [5]byte
			for {
				if _, err := io.ReadFull(conn, raw[:]); err != nil {
					return
				}
				cmds <- rtltcpCommand{code: raw[0], param: binary.BigEndian.Uint32(raw[1:])}
			}
		}()

		<-release
		_, _ = conn.Write(payload)
		time.Sleep(200 * time.Millisecond)
	}()

	return listener.Addr().String(), cmds
}

func nextCommand(t *testing.T, cmds <-chan rtltcpCommand) rtltcpCommand {
	t.Helper()
	select {
	case c := <-cmds:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command")
		return rtltcpCommand{}
	}
}

func TestRTLTCPCommandsAndSamples(t *testing.T) {
	release := make(chan struct{})
	payload := []byte{255, 0, 0, 255, 128, 128, 7}
	addr, cmds := startRTLTCPMock(t, payload, release)

	dev, err := Make(context.Background(), Args{"driver": "rtltcp", "addr": addr}, nil)
	if err != nil {
		t.Fatalf("make failed: %v", err)
	}
	defer dev.Close()

	if err := dev.SetFrequency(144.295e6); err != nil {
		t.Fatalf("set frequency: %v", err)
	}
	if c := nextCommand(t, cmds); c.code != 1 || c.param != 144295000 {
		t.Fatalf("unexpected frequency command %+v", c)
	}
	if err := dev.SetGain("LNA", 30); err != nil {
		t.Fatalf("set gain: %v", err)
	}
	if c := nextCommand(t, cmds); c.code != 3 || c.param != 1 {
		t.Fatalf("expected manual gain mode, got %+v", c)
	}
	if c := nextCommand(t, cmds); c.code != 4 || c.param != 300 {
		t.Fatalf("expected gain of 300 tenths, got %+v", c)
	}
	if err := dev.SetGain("PGA", 19); FaultCode(err) != CodeNotSupported {
		t.Fatalf("expected not supported for PGA, got %v", err)
	}
	if err := dev.SetMasterClockRate(40e6); FaultCode(err) != CodeNotSupported {
		t.Fatalf("expected not supported for clock rate, got %v", err)
	}

	stream, err := dev.SetupStream(FormatCF32, []int{0})
	if err != nil {
		t.Fatalf("setup stream: %v", err)
	}
	defer stream.Close()
	if err := stream.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	close(release)

	got := make([]complex64, 0, 3)
	buf := make([]complex64, 8)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		n, err := stream.Read(context.Background(), buf, 100*time.Millisecond)
		if err != nil {
			continue
		}
		got = append(got, buf[:n]...)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	if real(got[0]) != 1 || imag(got[0]) != -1 || real(got[1]) != -1 || imag(got[1]) != 1 {
		t.Fatalf("unexpected decoded samples %v", got[:2])
	}
	if real(got[2]) <= 0 || real(got[2]) > 0.01 {
		t.Fatalf("mid-scale sample should be near zero: %v", got[2])
	}
}

func TestRTLTCPAntenna(t *testing.T) {
	d := &RTLTCPDevice{}
	if err := d.SetAntenna("rx"); err != nil {
		t.Fatalf("RX antenna rejected: %v", err)
	}
	if err := d.SetAntenna("LNAL"); FaultCode(err) != CodeNotSupported {
		t.Fatalf("expected not supported, got %v", err)
	}
}
