// Package icrypto builds the associated data and derived keys that bind
// ciphertexts to the place they are stored.
package icrypto

import (
	"encoding/binary"
)

const (
	aadRecord  = "RECORD"
	aadLocal   = "LOCAL"
	aadPeer    = "PEER"
	aadSession = "SESSION"
)

// AADRecord binds a sealed storage record to its namespace, type and id so an
// envelope copied to another slot fails to open.
func AADRecord(namespace, recordType, recordID string, ver int) []byte {
	return buildAAD(aadRecord, namespace, recordType, recordID, ver)
}

// AADLocal is the associated data for tokens produced by local at-rest encryption.
func AADLocal(ver int) []byte {
	return buildAAD(aadLocal, ver)
}

// AADPeer binds a hybrid payload to the wrapped key that accompanies it.
func AADPeer(wrappedKey []byte, ver int) []byte {
	return buildAAD(aadPeer, wrappedKey, ver)
}

// AADSession is the associated data for session-key ciphertexts.
func AADSession(ver int) []byte {
	return buildAAD(aadSession, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case int:
			res = binary.BigEndian.AppendUint32(res, uint32(v))
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
