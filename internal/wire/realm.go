// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package wire

import (
	"encoding/binary"

	"github.com/samber/oops"
)

// Frame sizes for the fixed realm messages.
const (
	realmHandshakeSize    = 2 + handleField + passwordField + 4 + 2 + nameField + 2 + 2
	realmHandshakeAckSize = 2 + 1
	tokenRedeemSize       = 2 + 4 + 4 + 4 + 1 + 4
	tokenRedeemResSize    = 2 + 4 + 1 + 1 + emailField + 8 + 1
	populationSize        = 2 + 4
	promoteSize           = 2 + 4 + 1 + secretField
	stateChangeSize       = 2 + 4 + 4
	banRelaySize          = 2 + 4 + 8
	accountIDSize         = 2 + 4
	bareSize              = 2
	privilegeEntrySize    = 4 + 1
)

// RealmHandshake claims a registry slot with server-category credentials
// and advertises the realm to clients.
type RealmHandshake struct {
	Handle      string
	Password    string
	Host        string
	Port        uint16
	Name        string
	Maintenance uint16
	New         uint16
}

// Opcode implements Message.
func (RealmHandshake) Opcode() Opcode { return OpRealmHandshake }

// Encode implements Message.
func (m RealmHandshake) Encode() []byte {
	buf := make([]byte, realmHandshakeSize)
	putOpcode(buf, OpRealmHandshake)
	putFixed(buf[2:2+handleField], m.Handle)
	putFixed(buf[26:26+passwordField], m.Password)
	putAddr(buf[50:], m.Host)
	binary.LittleEndian.PutUint16(buf[54:], m.Port)
	putFixed(buf[56:56+nameField], m.Name)
	binary.LittleEndian.PutUint16(buf[76:], m.Maintenance)
	binary.LittleEndian.PutUint16(buf[78:], m.New)
	return buf
}

func decodeRealmHandshake(buf []byte) (Message, int, error) {
	b, err := need(buf, realmHandshakeSize)
	if err != nil {
		return nil, 0, err
	}
	return RealmHandshake{
		Handle:      fixed(b[2 : 2+handleField]),
		Password:    fixed(b[26 : 26+passwordField]),
		Host:        addrString(b[50:]),
		Port:        binary.LittleEndian.Uint16(b[54:]),
		Name:        fixed(b[56 : 56+nameField]),
		Maintenance: binary.LittleEndian.Uint16(b[76:]),
		New:         binary.LittleEndian.Uint16(b[78:]),
	}, realmHandshakeSize, nil
}

// RealmHandshakeAck reports the slot claim result: zero accepts, anything
// else refuses.
type RealmHandshakeAck struct {
	Result uint8
}

// Opcode implements Message.
func (RealmHandshakeAck) Opcode() Opcode { return OpRealmHandshakeAck }

// Encode implements Message.
func (m RealmHandshakeAck) Encode() []byte {
	buf := make([]byte, realmHandshakeAckSize)
	putOpcode(buf, OpRealmHandshakeAck)
	buf[2] = m.Result
	return buf
}

func decodeRealmHandshakeAck(buf []byte) (Message, int, error) {
	b, err := need(buf, realmHandshakeAckSize)
	if err != nil {
		return nil, 0, err
	}
	return RealmHandshakeAck{Result: b[2]}, realmHandshakeAckSize, nil
}

// TokenRedeem claims an authenticated client. Every field must match the
// outstanding token.
type TokenRedeem struct {
	AccountID uint32
	LoginID1  uint32
	LoginID2  uint32
	Sex       uint8
	IP        string
}

// Opcode implements Message.
func (TokenRedeem) Opcode() Opcode { return OpTokenRedeem }

// Encode implements Message.
func (m TokenRedeem) Encode() []byte {
	buf := make([]byte, tokenRedeemSize)
	putOpcode(buf, OpTokenRedeem)
	binary.LittleEndian.PutUint32(buf[2:], m.AccountID)
	binary.LittleEndian.PutUint32(buf[6:], m.LoginID1)
	binary.LittleEndian.PutUint32(buf[10:], m.LoginID2)
	buf[14] = m.Sex
	putAddr(buf[15:], m.IP)
	return buf
}

func decodeTokenRedeem(buf []byte) (Message, int, error) {
	b, err := need(buf, tokenRedeemSize)
	if err != nil {
		return nil, 0, err
	}
	return TokenRedeem{
		AccountID: binary.LittleEndian.Uint32(b[2:]),
		LoginID1:  binary.LittleEndian.Uint32(b[6:]),
		LoginID2:  binary.LittleEndian.Uint32(b[10:]),
		Sex:       b[14],
		IP:        addrString(b[15:]),
	}, tokenRedeemSize, nil
}

// TokenRedeemResult answers a redemption: result zero carries the account
// summary, anything else is a failure and the summary fields are zero.
type TokenRedeemResult struct {
	AccountID  uint32
	Result     uint8
	Sex        uint8
	Email      string
	Expiration int64 // unix seconds, zero for unlimited
	Level      uint8 // operator level
}

// Opcode implements Message.
func (TokenRedeemResult) Opcode() Opcode { return OpTokenRedeemResult }

// Encode implements Message.
func (m TokenRedeemResult) Encode() []byte {
	buf := make([]byte, tokenRedeemResSize)
	putOpcode(buf, OpTokenRedeemResult)
	binary.LittleEndian.PutUint32(buf[2:], m.AccountID)
	buf[6] = m.Result
	buf[7] = m.Sex
	putFixed(buf[8:8+emailField], m.Email)
	binary.LittleEndian.PutUint64(buf[48:], uint64(m.Expiration))
	buf[56] = m.Level
	return buf
}

func decodeTokenRedeemResult(buf []byte) (Message, int, error) {
	b, err := need(buf, tokenRedeemResSize)
	if err != nil {
		return nil, 0, err
	}
	return TokenRedeemResult{
		AccountID:  binary.LittleEndian.Uint32(b[2:]),
		Result:     b[6],
		Sex:        b[7],
		Email:      fixed(b[8 : 8+emailField]),
		Expiration: int64(binary.LittleEndian.Uint64(b[48:])),
		Level:      b[56],
	}, tokenRedeemResSize, nil
}

// PopulationUpdate advertises a realm's player count.
type PopulationUpdate struct {
	Count uint32
}

// Opcode implements Message.
func (PopulationUpdate) Opcode() Opcode { return OpPopulationUpdate }

// Encode implements Message.
func (m PopulationUpdate) Encode() []byte {
	buf := make([]byte, populationSize)
	putOpcode(buf, OpPopulationUpdate)
	binary.LittleEndian.PutUint32(buf[2:], m.Count)
	return buf
}

func decodePopulationUpdate(buf []byte) (Message, int, error) {
	b, err := need(buf, populationSize)
	if err != nil {
		return nil, 0, err
	}
	return PopulationUpdate{Count: binary.LittleEndian.Uint32(b[2:])}, populationSize, nil
}

// PrivilegeReload asks the identity server to reload the privilege file.
type PrivilegeReload struct{}

// Opcode implements Message.
func (PrivilegeReload) Opcode() Opcode { return OpPrivilegeReload }

// Encode implements Message.
func (PrivilegeReload) Encode() []byte {
	buf := make([]byte, bareSize)
	putOpcode(buf, OpPrivilegeReload)
	return buf
}

// PromoteRequest grants an operator level, authorized by a shared secret.
type PromoteRequest struct {
	AccountID uint32
	Level     uint8
	Secret    string
}

// Opcode implements Message.
func (PromoteRequest) Opcode() Opcode { return OpPromoteRequest }

// Encode implements Message.
func (m PromoteRequest) Encode() []byte {
	buf := make([]byte, promoteSize)
	putOpcode(buf, OpPromoteRequest)
	binary.LittleEndian.PutUint32(buf[2:], m.AccountID)
	buf[6] = m.Level
	putFixed(buf[7:7+secretField], m.Secret)
	return buf
}

func decodePromoteRequest(buf []byte) (Message, int, error) {
	b, err := need(buf, promoteSize)
	if err != nil {
		return nil, 0, err
	}
	return PromoteRequest{
		AccountID: binary.LittleEndian.Uint32(b[2:]),
		Level:     b[6],
		Secret:    fixed(b[7 : 7+secretField]),
	}, promoteSize, nil
}

// StateChangeRelay applies an administrative state code to an account.
type StateChangeRelay struct {
	AccountID uint32
	State     uint32
}

// Opcode implements Message.
func (StateChangeRelay) Opcode() Opcode { return OpStateChangeRelay }

// Encode implements Message.
func (m StateChangeRelay) Encode() []byte {
	buf := make([]byte, stateChangeSize)
	putOpcode(buf, OpStateChangeRelay)
	binary.LittleEndian.PutUint32(buf[2:], m.AccountID)
	binary.LittleEndian.PutUint32(buf[6:], m.State)
	return buf
}

func decodeStateChangeRelay(buf []byte) (Message, int, error) {
	b, err := need(buf, stateChangeSize)
	if err != nil {
		return nil, 0, err
	}
	return StateChangeRelay{
		AccountID: binary.LittleEndian.Uint32(b[2:]),
		State:     binary.LittleEndian.Uint32(b[6:]),
	}, stateChangeSize, nil
}

// BanRelay bans an account until the given time.
type BanRelay struct {
	AccountID uint32
	Until     int64 // unix seconds
}

// Opcode implements Message.
func (BanRelay) Opcode() Opcode { return OpBanRelay }

// Encode implements Message.
func (m BanRelay) Encode() []byte {
	buf := make([]byte, banRelaySize)
	putOpcode(buf, OpBanRelay)
	binary.LittleEndian.PutUint32(buf[2:], m.AccountID)
	binary.LittleEndian.PutUint64(buf[6:], uint64(m.Until))
	return buf
}

func decodeBanRelay(buf []byte) (Message, int, error) {
	b, err := need(buf, banRelaySize)
	if err != nil {
		return nil, 0, err
	}
	return BanRelay{
		AccountID: binary.LittleEndian.Uint32(b[2:]),
		Until:     int64(binary.LittleEndian.Uint64(b[6:])),
	}, banRelaySize, nil
}

// UnbanRelay lifts an account's ban.
type UnbanRelay struct {
	AccountID uint32
}

// Opcode implements Message.
func (UnbanRelay) Opcode() Opcode { return OpUnbanRelay }

// Encode implements Message.
func (m UnbanRelay) Encode() []byte {
	return encodeAccountID(OpUnbanRelay, m.AccountID)
}

// AccountOnline reports one account entering the realm.
type AccountOnline struct {
	AccountID uint32
}

// Opcode implements Message.
func (AccountOnline) Opcode() Opcode { return OpAccountOnline }

// Encode implements Message.
func (m AccountOnline) Encode() []byte {
	return encodeAccountID(OpAccountOnline, m.AccountID)
}

// AccountOffline reports one account leaving the realm.
type AccountOffline struct {
	AccountID uint32
}

// Opcode implements Message.
func (AccountOffline) Opcode() Opcode { return OpAccountOffline }

// Encode implements Message.
func (m AccountOffline) Encode() []byte {
	return encodeAccountID(OpAccountOffline, m.AccountID)
}

// KickAccount orders a realm to disconnect one account.
type KickAccount struct {
	AccountID uint32
}

// Opcode implements Message.
func (KickAccount) Opcode() Opcode { return OpKickAccount }

// Encode implements Message.
func (m KickAccount) Encode() []byte {
	return encodeAccountID(OpKickAccount, m.AccountID)
}

// PresenceSnapshot is a realm's full roster of live accounts.
type PresenceSnapshot struct {
	AccountIDs []uint32
}

// Opcode implements Message.
func (PresenceSnapshot) Opcode() Opcode { return OpPresenceSnapshot }

// Encode implements Message.
func (m PresenceSnapshot) Encode() []byte {
	buf := make([]byte, 4+4*len(m.AccountIDs))
	putOpcode(buf, OpPresenceSnapshot)
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(buf)))
	for i, id := range m.AccountIDs {
		binary.LittleEndian.PutUint32(buf[4+4*i:], id)
	}
	return buf
}

func decodePresenceSnapshot(buf []byte) (Message, int, error) {
	b, err := needVar(buf)
	if err != nil {
		return nil, 0, err
	}
	if (len(b)-4)%4 != 0 {
		return nil, 0, oops.Code("WIRE_FRAME_MALFORMED").
			Errorf("snapshot frame length %d does not fit the id layout", len(b))
	}
	m := PresenceSnapshot{}
	for off := 4; off < len(b); off += 4 {
		m.AccountIDs = append(m.AccountIDs, binary.LittleEndian.Uint32(b[off:]))
	}
	return m, len(b), nil
}

// Broadcast relays an operator message to every realm.
type Broadcast struct {
	Text string
}

// Opcode implements Message.
func (Broadcast) Opcode() Opcode { return OpBroadcastRelay }

// Encode implements Message.
func (m Broadcast) Encode() []byte {
	buf := make([]byte, 4+len(m.Text))
	putOpcode(buf, OpBroadcastRelay)
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(buf)))
	copy(buf[4:], m.Text)
	return buf
}

func decodeBroadcast(buf []byte) (Message, int, error) {
	b, err := needVar(buf)
	if err != nil {
		return nil, 0, err
	}
	return Broadcast{Text: string(b[4:])}, len(b), nil
}

// AllOffline reports that a realm dropped every session it held.
type AllOffline struct{}

// Opcode implements Message.
func (AllOffline) Opcode() Opcode { return OpAllOffline }

// Encode implements Message.
func (AllOffline) Encode() []byte {
	buf := make([]byte, bareSize)
	putOpcode(buf, OpAllOffline)
	return buf
}

// Ping is the identity server's liveness probe.
type Ping struct{}

// Opcode implements Message.
func (Ping) Opcode() Opcode { return OpPing }

// Encode implements Message.
func (Ping) Encode() []byte {
	buf := make([]byte, bareSize)
	putOpcode(buf, OpPing)
	return buf
}

// PrivilegeGrant is one entry of a privilege snapshot.
type PrivilegeGrant struct {
	AccountID uint32
	Level     uint8
}

// PrivilegeSnapshot is the full operator-level directory pushed to realms
// after every reload.
type PrivilegeSnapshot struct {
	Grants []PrivilegeGrant
}

// Opcode implements Message.
func (PrivilegeSnapshot) Opcode() Opcode { return OpPrivilegeSnapshot }

// Encode implements Message.
func (m PrivilegeSnapshot) Encode() []byte {
	buf := make([]byte, 4+privilegeEntrySize*len(m.Grants))
	putOpcode(buf, OpPrivilegeSnapshot)
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(buf)))
	for i, g := range m.Grants {
		off := 4 + privilegeEntrySize*i
		binary.LittleEndian.PutUint32(buf[off:], g.AccountID)
		buf[off+4] = g.Level
	}
	return buf
}

func decodePrivilegeSnapshot(buf []byte) (Message, int, error) {
	b, err := needVar(buf)
	if err != nil {
		return nil, 0, err
	}
	if (len(b)-4)%privilegeEntrySize != 0 {
		return nil, 0, oops.Code("WIRE_FRAME_MALFORMED").
			Errorf("privilege snapshot length %d does not fit the entry layout", len(b))
	}
	m := PrivilegeSnapshot{}
	for off := 4; off < len(b); off += privilegeEntrySize {
		m.Grants = append(m.Grants, PrivilegeGrant{
			AccountID: binary.LittleEndian.Uint32(b[off:]),
			Level:     b[off+4],
		})
	}
	return m, len(b), nil
}

func encodeAccountID(op Opcode, id uint32) []byte {
	buf := make([]byte, accountIDSize)
	putOpcode(buf, op)
	binary.LittleEndian.PutUint32(buf[2:], id)
	return buf
}

func decodeAccountID(buf []byte) (uint32, error) {
	b, err := need(buf, accountIDSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[2:]), nil
}
