// Package rtpmidi encodes MIDI real-time messages in RTP-MIDI style packets
// and sends them over UDP.
//
// A packet is a 12 byte RTP header followed by a single MIDI status byte:
//
//	byte 0      version 2 in bits 7:6
//	byte 1      payload type
//	bytes 2-3   sequence number, big endian
//	bytes 4-7   timestamp, big endian (low 32 bits of µs)
//	bytes 8-11  source id
//	byte 12     status (clock, start or stop)
package rtpmidi

import (
	"encoding/binary"
	"errors"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

const (
	// HeaderSize is the length of the RTP header.
	HeaderSize = 12
	// PacketSize is the length of an encoded packet.
	PacketSize = HeaderSize + 1

	// Version is the RTP version written in every header.
	Version = 2
	// PayloadType is the dynamic payload type used for MIDI.
	PayloadType = 97
	// DefaultSSRC is the source id used when none is configured.
	DefaultSSRC = 0x12345678
)

// MIDI real-time status bytes.
var (
	StatusClock = midi.TimingClock()[0]
	StatusStart = midi.Start()[0]
	StatusStop  = midi.Stop()[0]
)

var (
	// ErrShortPacket is returned when decoding less than PacketSize bytes.
	ErrShortPacket = errors.New("rtpmidi: packet too short")
	// ErrVersion is returned when decoding a header with a version other
	// than 2.
	ErrVersion = errors.New("rtpmidi: unsupported RTP version")
)

// Packet is an encoded packet.
type Packet [PacketSize]byte

// Header is a decoded RTP header.
type Header struct {
	Version     uint8
	PayloadType uint8
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
}

// Encoder builds packets. Each call to Encode consumes one sequence number,
// whether or not the packet is sent afterwards.
type Encoder struct {
	seq  uint16
	ssrc uint32
}

// NewEncoder returns an encoder for the given source id. A zero ssrc selects
// DefaultSSRC.
func NewEncoder(ssrc uint32) *Encoder {
	if ssrc == 0 {
		ssrc = DefaultSSRC
	}
	return &Encoder{ssrc: ssrc}
}

// Encode returns the packet carrying status at timestamp (µs).
func (e *Encoder) Encode(status byte, timestamp uint64) Packet {
	var p Packet
	p[0] = Version << 6
	p[1] = PayloadType
	binary.BigEndian.PutUint16(p[2:4], e.seq)
	binary.BigEndian.PutUint32(p[4:8], uint32(timestamp))
	binary.BigEndian.PutUint32(p[8:12], e.ssrc)
	p[12] = status
	e.seq++
	return p
}

// Sequence returns the sequence number of the next packet.
func (e *Encoder) Sequence() uint16 {
	return e.seq
}

// Decode parses a packet.
func Decode(b []byte) (Header, byte, error) {
	if len(b) < PacketSize {
		return Header{}, 0, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	h := Header{
		Version:     b[0] >> 6,
		PayloadType: b[1] & 0x7F,
		Sequence:    binary.BigEndian.Uint16(b[2:4]),
		Timestamp:   binary.BigEndian.Uint32(b[4:8]),
		SSRC:        binary.BigEndian.Uint32(b[8:12]),
	}
	if h.Version != Version {
		return h, 0, ErrVersion
	}
	return h, b[12], nil
}

// String describes the MIDI message carried by the packet.
func (p Packet) String() string {
	return fmt.Sprintf("#%d %v", binary.BigEndian.Uint16(p[2:4]), midi.Message(p[12:]))
}
