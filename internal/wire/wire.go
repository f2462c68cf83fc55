// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package wire implements the binary protocol spoken on both listener
// roles: opcode-prefixed little-endian frames, fixed-size or carrying an
// explicit total length. Decoding works on a raw stream buffer and reports
// ErrIncomplete until a whole frame is available, so callers can feed it
// arbitrary TCP chunks.
package wire

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"strings"

	"github.com/samber/oops"
)

// ErrIncomplete reports that the buffer does not yet hold a whole frame.
// The caller should read more bytes and retry.
var ErrIncomplete = errors.New("incomplete frame")

// Opcode identifies a frame type. Values travel on the wire.
type Opcode uint16

// Client to identity server.
const (
	OpLogin             Opcode = 0x0064 // credential login, raw password
	OpSessionKeyRequest Opcode = 0x01db // ask for a password-keying challenge
	OpLoginDigest       Opcode = 0x01dd // credential login, keyed md5 digest
	OpKeepaliveName     Opcode = 0x0200 // periodic no-op carrying the handle
	OpKeepaliveDigest   Opcode = 0x0204 // periodic no-op carrying a digest
)

// Identity server to client.
const (
	OpLoginAccept     Opcode = 0x0069 // token pair + realm roster
	OpLoginRefuse     Opcode = 0x006a // numeric reason, ban date for reason 6
	OpNotify          Opcode = 0x0081 // out-of-band disconnect reason
	OpSessionKeyReply Opcode = 0x01dc // the challenge key
)

// Realm server to identity server.
const (
	OpRealmHandshake    Opcode = 0x2710 // claim a slot with server credentials
	OpTokenRedeem       Opcode = 0x2712 // claim an authenticated client
	OpPopulationUpdate  Opcode = 0x2714 // advertised player count
	OpPrivilegeReload   Opcode = 0x2709 // ask for a privilege file reload
	OpPromoteRequest    Opcode = 0x2720 // grant an operator level
	OpStateChangeRelay  Opcode = 0x2724 // in-game administration: state code
	OpBanRelay          Opcode = 0x2725 // in-game administration: ban until
	OpBroadcastRelay    Opcode = 0x2726 // relay a message to all realms
	OpUnbanRelay        Opcode = 0x272a // in-game administration: lift ban
	OpAccountOnline     Opcode = 0x272b // one account entered the realm
	OpAccountOffline    Opcode = 0x272c // one account left the realm
	OpPresenceSnapshot  Opcode = 0x272d // full roster of live accounts
	OpAllOffline        Opcode = 0x2737 // realm dropped everyone
)

// Identity server to realm server.
const (
	OpRealmHandshakeAck Opcode = 0x2711 // slot claim result
	OpPing              Opcode = 0x2718 // liveness probe
	OpTokenRedeemResult Opcode = 0x2713 // account summary or failure
	OpPrivilegeSnapshot Opcode = 0x2732 // full operator-level directory
	OpKickAccount       Opcode = 0x2734 // force-disconnect this account
)

// Fixed field widths shared by several frames.
const (
	handleField   = 24
	passwordField = 24
	digestField   = 16
	nameField     = 20
	lastLoginLen  = 26
	emailField    = 40
	secretField   = 24
	banDateField  = 20
)

// Message is one decoded frame.
type Message interface {
	Opcode() Opcode
	// Encode renders the full frame including the opcode prefix.
	Encode() []byte
}

// Decode parses the first frame in buf, returning the message and the
// number of bytes consumed. ErrIncomplete means feed more bytes; any other
// error means the stream is unrecoverable and the connection should drop.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrIncomplete
	}
	op := Opcode(binary.LittleEndian.Uint16(buf))

	decode, ok := decoders[op]
	if !ok {
		return nil, 0, oops.Code("WIRE_UNKNOWN_OPCODE").
			With("opcode", uint16(op)).
			Errorf("unknown opcode 0x%04x", uint16(op))
	}
	return decode(buf)
}

// need returns buf when at least n bytes are present, ErrIncomplete
// otherwise.
func need(buf []byte, n int) ([]byte, error) {
	if len(buf) < n {
		return nil, ErrIncomplete
	}
	return buf[:n], nil
}

// needVar handles frames whose total length travels as a uint16 right
// after the opcode.
func needVar(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, ErrIncomplete
	}
	total := int(binary.LittleEndian.Uint16(buf[2:]))
	if total < 4 {
		return nil, oops.Code("WIRE_FRAME_MALFORMED").
			Errorf("declared frame length %d below header size", total)
	}
	if len(buf) < total {
		return nil, ErrIncomplete
	}
	return buf[:total], nil
}

func putOpcode(dst []byte, op Opcode) {
	binary.LittleEndian.PutUint16(dst, uint16(op))
}

// putFixed copies a string into a fixed NUL-padded field, truncating when
// too long.
func putFixed(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// fixed reads a NUL-padded field back into a string.
func fixed(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// putAddr renders an IPv4 address into four bytes. Unparseable or
// non-IPv4 input becomes the zero address.
func putAddr(dst []byte, ip string) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		copy(dst, []byte{0, 0, 0, 0})
		return
	}
	v4 := addr.Unmap().As4()
	copy(dst, v4[:])
}

func addrString(b []byte) string {
	return netip.AddrFrom4([4]byte(b[:4])).String()
}
