// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package wire

import (
	"encoding/binary"

	"github.com/samber/oops"
)

// Frame sizes for the fixed client messages.
const (
	loginSize           = 2 + 4 + handleField + passwordField + 1
	loginDigestSize     = 2 + 4 + handleField + digestField + 1
	sessionKeyReqSize   = 2
	keepaliveNameSize   = 2 + lastLoginLen
	keepaliveDigestSize = 2 + digestField
	loginRefuseSize     = 2 + 1 + banDateField
	notifySize          = 2 + 1
	loginAcceptBase     = 4 + 4 + 4 + 4 + 4 + lastLoginLen + 1
	realmEntrySize      = 4 + 2 + nameField + 2 + 2 + 2
)

// Login is a credential login with the password sent as-is.
type Login struct {
	ClientVersion uint32
	Handle        string
	Password      string
	ClientType    uint8
}

// Opcode implements Message.
func (Login) Opcode() Opcode { return OpLogin }

// Encode implements Message.
func (m Login) Encode() []byte {
	buf := make([]byte, loginSize)
	putOpcode(buf, OpLogin)
	binary.LittleEndian.PutUint32(buf[2:], m.ClientVersion)
	putFixed(buf[6:6+handleField], m.Handle)
	putFixed(buf[30:30+passwordField], m.Password)
	buf[54] = m.ClientType
	return buf
}

func decodeLogin(buf []byte) (Message, int, error) {
	b, err := need(buf, loginSize)
	if err != nil {
		return nil, 0, err
	}
	return Login{
		ClientVersion: binary.LittleEndian.Uint32(b[2:]),
		Handle:        fixed(b[6 : 6+handleField]),
		Password:      fixed(b[30 : 30+passwordField]),
		ClientType:    b[54],
	}, loginSize, nil
}

// LoginDigest is a credential login carrying a keyed md5 digest instead of
// the password.
type LoginDigest struct {
	ClientVersion uint32
	Handle        string
	Digest        [16]byte
	ClientType    uint8
}

// Opcode implements Message.
func (LoginDigest) Opcode() Opcode { return OpLoginDigest }

// Encode implements Message.
func (m LoginDigest) Encode() []byte {
	buf := make([]byte, loginDigestSize)
	putOpcode(buf, OpLoginDigest)
	binary.LittleEndian.PutUint32(buf[2:], m.ClientVersion)
	putFixed(buf[6:6+handleField], m.Handle)
	copy(buf[30:30+digestField], m.Digest[:])
	buf[46] = m.ClientType
	return buf
}

func decodeLoginDigest(buf []byte) (Message, int, error) {
	b, err := need(buf, loginDigestSize)
	if err != nil {
		return nil, 0, err
	}
	m := LoginDigest{
		ClientVersion: binary.LittleEndian.Uint32(b[2:]),
		Handle:        fixed(b[6 : 6+handleField]),
		ClientType:    b[46],
	}
	copy(m.Digest[:], b[30:30+digestField])
	return m, loginDigestSize, nil
}

// SessionKeyRequest asks for the per-connection password-keying challenge.
type SessionKeyRequest struct{}

// Opcode implements Message.
func (SessionKeyRequest) Opcode() Opcode { return OpSessionKeyRequest }

// Encode implements Message.
func (SessionKeyRequest) Encode() []byte {
	buf := make([]byte, sessionKeyReqSize)
	putOpcode(buf, OpSessionKeyRequest)
	return buf
}

func decodeSessionKeyRequest(buf []byte) (Message, int, error) {
	if _, err := need(buf, sessionKeyReqSize); err != nil {
		return nil, 0, err
	}
	return SessionKeyRequest{}, sessionKeyReqSize, nil
}

// SessionKeyReply carries the challenge key for keyed logins.
type SessionKeyReply struct {
	Key string
}

// Opcode implements Message.
func (SessionKeyReply) Opcode() Opcode { return OpSessionKeyReply }

// Encode implements Message.
func (m SessionKeyReply) Encode() []byte {
	buf := make([]byte, 4+len(m.Key))
	putOpcode(buf, OpSessionKeyReply)
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(buf)))
	copy(buf[4:], m.Key)
	return buf
}

func decodeSessionKeyReply(buf []byte) (Message, int, error) {
	b, err := needVar(buf)
	if err != nil {
		return nil, 0, err
	}
	return SessionKeyReply{Key: string(b[4:])}, len(b), nil
}

// KeepaliveName is a client no-op carrying the account handle.
type KeepaliveName struct {
	Handle string
}

// Opcode implements Message.
func (KeepaliveName) Opcode() Opcode { return OpKeepaliveName }

// Encode implements Message.
func (m KeepaliveName) Encode() []byte {
	buf := make([]byte, keepaliveNameSize)
	putOpcode(buf, OpKeepaliveName)
	putFixed(buf[2:], m.Handle)
	return buf
}

func decodeKeepaliveName(buf []byte) (Message, int, error) {
	b, err := need(buf, keepaliveNameSize)
	if err != nil {
		return nil, 0, err
	}
	return KeepaliveName{Handle: fixed(b[2:])}, keepaliveNameSize, nil
}

// KeepaliveDigest is a client no-op carrying an opaque digest.
type KeepaliveDigest struct {
	Digest [16]byte
}

// Opcode implements Message.
func (KeepaliveDigest) Opcode() Opcode { return OpKeepaliveDigest }

// Encode implements Message.
func (m KeepaliveDigest) Encode() []byte {
	buf := make([]byte, keepaliveDigestSize)
	putOpcode(buf, OpKeepaliveDigest)
	copy(buf[2:], m.Digest[:])
	return buf
}

func decodeKeepaliveDigest(buf []byte) (Message, int, error) {
	b, err := need(buf, keepaliveDigestSize)
	if err != nil {
		return nil, 0, err
	}
	var m KeepaliveDigest
	copy(m.Digest[:], b[2:])
	return m, keepaliveDigestSize, nil
}

// RealmEntry is one realm in the accept roster.
type RealmEntry struct {
	Host        string
	Port        uint16
	Name        string
	Population  uint16
	Maintenance uint16
	New         uint16
}

// LoginAccept carries the token correlation pair and the realm roster.
type LoginAccept struct {
	LoginID1  uint32
	AccountID uint32
	LoginID2  uint32
	LastIP    string
	LastLogin string
	Sex       uint8
	Realms    []RealmEntry
}

// Opcode implements Message.
func (LoginAccept) Opcode() Opcode { return OpLoginAccept }

// Encode implements Message.
func (m LoginAccept) Encode() []byte {
	buf := make([]byte, 4+loginAcceptBase+len(m.Realms)*realmEntrySize)
	putOpcode(buf, OpLoginAccept)
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(buf)))
	binary.LittleEndian.PutUint32(buf[4:], m.LoginID1)
	binary.LittleEndian.PutUint32(buf[8:], m.AccountID)
	binary.LittleEndian.PutUint32(buf[12:], m.LoginID2)
	putAddr(buf[16:], m.LastIP)
	putFixed(buf[20:20+lastLoginLen], m.LastLogin)
	buf[46] = m.Sex

	off := 4 + loginAcceptBase
	for _, r := range m.Realms {
		putAddr(buf[off:], r.Host)
		binary.LittleEndian.PutUint16(buf[off+4:], r.Port)
		putFixed(buf[off+6:off+6+nameField], r.Name)
		binary.LittleEndian.PutUint16(buf[off+26:], r.Population)
		binary.LittleEndian.PutUint16(buf[off+28:], r.Maintenance)
		binary.LittleEndian.PutUint16(buf[off+30:], r.New)
		off += realmEntrySize
	}
	return buf
}

func decodeLoginAccept(buf []byte) (Message, int, error) {
	b, err := needVar(buf)
	if err != nil {
		return nil, 0, err
	}
	if len(b) < 4+loginAcceptBase || (len(b)-4-loginAcceptBase)%realmEntrySize != 0 {
		return nil, 0, oops.Code("WIRE_FRAME_MALFORMED").
			Errorf("accept frame length %d does not fit the roster layout", len(b))
	}
	m := LoginAccept{
		LoginID1:  binary.LittleEndian.Uint32(b[4:]),
		AccountID: binary.LittleEndian.Uint32(b[8:]),
		LoginID2:  binary.LittleEndian.Uint32(b[12:]),
		LastIP:    addrString(b[16:]),
		LastLogin: fixed(b[20 : 20+lastLoginLen]),
		Sex:       b[46],
	}
	for off := 4 + loginAcceptBase; off < len(b); off += realmEntrySize {
		m.Realms = append(m.Realms, RealmEntry{
			Host:        addrString(b[off:]),
			Port:        binary.LittleEndian.Uint16(b[off+4:]),
			Name:        fixed(b[off+6 : off+6+nameField]),
			Population:  binary.LittleEndian.Uint16(b[off+26:]),
			Maintenance: binary.LittleEndian.Uint16(b[off+28:]),
			New:         binary.LittleEndian.Uint16(b[off+30:]),
		})
	}
	return m, len(b), nil
}

// LoginRefuse carries the rejection reason; BanDate is set only for the
// banned-until reason.
type LoginRefuse struct {
	Reason  uint8
	BanDate string
}

// Opcode implements Message.
func (LoginRefuse) Opcode() Opcode { return OpLoginRefuse }

// Encode implements Message.
func (m LoginRefuse) Encode() []byte {
	buf := make([]byte, loginRefuseSize)
	putOpcode(buf, OpLoginRefuse)
	buf[2] = m.Reason
	putFixed(buf[3:], m.BanDate)
	return buf
}

func decodeLoginRefuse(buf []byte) (Message, int, error) {
	b, err := need(buf, loginRefuseSize)
	if err != nil {
		return nil, 0, err
	}
	return LoginRefuse{Reason: b[2], BanDate: fixed(b[3:])}, loginRefuseSize, nil
}

// Notify tells a connected client why it is about to be disconnected.
type Notify struct {
	Reason uint8
}

// Opcode implements Message.
func (Notify) Opcode() Opcode { return OpNotify }

// Encode implements Message.
func (m Notify) Encode() []byte {
	buf := make([]byte, notifySize)
	putOpcode(buf, OpNotify)
	buf[2] = m.Reason
	return buf
}

func decodeNotify(buf []byte) (Message, int, error) {
	b, err := need(buf, notifySize)
	if err != nil {
		return nil, 0, err
	}
	return Notify{Reason: b[2]}, notifySize, nil
}
