// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package wire

// decoders routes an opcode to its frame decoder. Both listener roles
// share one table; role policy (which opcodes a connection may send) is
// enforced by the dispatch layer, not the codec.
var decoders = map[Opcode]func([]byte) (Message, int, error){
	OpLogin:             decodeLogin,
	OpLoginDigest:       decodeLoginDigest,
	OpSessionKeyRequest: decodeSessionKeyRequest,
	OpSessionKeyReply:   decodeSessionKeyReply,
	OpKeepaliveName:     decodeKeepaliveName,
	OpKeepaliveDigest:   decodeKeepaliveDigest,
	OpLoginAccept:       decodeLoginAccept,
	OpLoginRefuse:       decodeLoginRefuse,
	OpNotify:            decodeNotify,

	OpRealmHandshake:    decodeRealmHandshake,
	OpRealmHandshakeAck: decodeRealmHandshakeAck,
	OpTokenRedeem:       decodeTokenRedeem,
	OpTokenRedeemResult: decodeTokenRedeemResult,
	OpPopulationUpdate:  decodePopulationUpdate,
	OpPromoteRequest:    decodePromoteRequest,
	OpStateChangeRelay:  decodeStateChangeRelay,
	OpBanRelay:          decodeBanRelay,
	OpBroadcastRelay:    decodeBroadcast,
	OpPresenceSnapshot:  decodePresenceSnapshot,
	OpPrivilegeSnapshot: decodePrivilegeSnapshot,

	OpPrivilegeReload: decodeBare(PrivilegeReload{}),
	OpAllOffline:      decodeBare(AllOffline{}),
	OpPing:            decodeBare(Ping{}),

	OpUnbanRelay: decodeWithAccountID(func(id uint32) Message { return UnbanRelay{AccountID: id} }),
	OpAccountOnline: decodeWithAccountID(func(id uint32) Message {
		return AccountOnline{AccountID: id}
	}),
	OpAccountOffline: decodeWithAccountID(func(id uint32) Message {
		return AccountOffline{AccountID: id}
	}),
	OpKickAccount: decodeWithAccountID(func(id uint32) Message {
		return KickAccount{AccountID: id}
	}),
}

func decodeBare(m Message) func([]byte) (Message, int, error) {
	return func(buf []byte) (Message, int, error) {
		if _, err := need(buf, bareSize); err != nil {
			return nil, 0, err
		}
		return m, bareSize, nil
	}
}

func decodeWithAccountID(build func(uint32) Message) func([]byte) (Message, int, error) {
	return func(buf []byte) (Message, int, error) {
		id, err := decodeAccountID(buf)
		if err != nil {
			return nil, 0, err
		}
		return build(id), accountIDSize, nil
	}
}
