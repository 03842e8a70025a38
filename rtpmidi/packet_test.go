package rtpmidi

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func TestEncode(t *testing.T) {
	e := NewEncoder(0)
	p := e.Encode(StatusClock, 0x1_2345_6789)

	want := []byte{
		0x80, 97,
		0x00, 0x00,
		0x23, 0x45, 0x67, 0x89,
		0x12, 0x34, 0x56, 0x78,
		0xF8,
	}
	if !bytes.Equal(p[:], want) {
		t.Errorf("Encode = % x, want % x", p[:], want)
	}

	p = e.Encode(StatusStart, 0)
	if p[3] != 1 || p[12] != 0xFA {
		t.Errorf("second packet = % x", p[:])
	}
	if StatusStop != 0xFC {
		t.Errorf("StatusStop = %#x, want 0xfc", StatusStop)
	}
}

func TestSequenceWraps(t *testing.T) {
	e := NewEncoder(1)
	e.seq = 0xFFFF

	p := e.Encode(StatusClock, 0)
	if p[2] != 0xFF || p[3] != 0xFF {
		t.Errorf("sequence bytes = % x, want ff ff", p[2:4])
	}
	if e.Sequence() != 0 {
		t.Errorf("Sequence() = %d after wrap, want 0", e.Sequence())
	}
}

func TestDecode(t *testing.T) {
	e := NewEncoder(0xCAFEBABE)
	e.Encode(StatusClock, 0)
	p := e.Encode(StatusStop, 42)

	h, status, err := Decode(p[:])
	if err != nil {
		t.Fatal(err)
	}
	want := Header{Version: 2, PayloadType: 97, Sequence: 1, Timestamp: 42, SSRC: 0xCAFEBABE}
	if h != want || status != StatusStop {
		t.Errorf("Decode = %+v %#x, want %+v %#x", h, status, want, StatusStop)
	}

	if _, _, err := Decode(p[:5]); !errors.Is(err, ErrShortPacket) {
		t.Errorf("short packet error = %v", err)
	}
	p[0] = 0x40
	if _, _, err := Decode(p[:]); !errors.Is(err, ErrVersion) {
		t.Errorf("version error = %v", err)
	}
}

func TestConn(t *testing.T) {
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("no loopback UDP: %v", err)
	}
	defer l.Close()

	c, err := Dial(l.LocalAddr().String(), 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	p := NewEncoder(0).Encode(StatusStart, 7)
	if n, err := c.Write(p[:]); err != nil || n != PacketSize {
		t.Fatalf("Write = %d, %v", n, err)
	}

	buf := make([]byte, 64)
	l.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := l.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], p[:]) {
		t.Errorf("received % x, want % x", buf[:n], p[:])
	}
}
