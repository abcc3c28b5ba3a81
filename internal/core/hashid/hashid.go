package hashid

import (
	"hash/crc64"

	"golang.org/x/text/unicode/norm"
)

var table = crc64.MakeTable(crc64.ECMA)

// String returns the stable 64-bit identifier for a name. Task ids, component
// type ids and resource hashes all come from here, so ids baked into resource
// files stay valid across builds.
//
// Names are NFC-normalised first: "é" typed as one rune or as e plus a
// combining accent yields the same id.
func String(name string) uint64 {
	return crc64.Checksum([]byte(norm.NFC.String(name)), table)
}
