package kvio

import (
	"encoding/binary"
	"math/bits"
)

// NetworkOrder is the byte order of every multi-byte integer in the on-disk
// tree format. Format code that encodes into byte slices uses it directly;
// code that moves whole integers through memory uses Hton*/Ntoh*.
var NetworkOrder = binary.BigEndian

// Swap16 reverses the byte order of x.
func Swap16(x uint16) uint16 { return bits.ReverseBytes16(x) }

// Swap32 reverses the byte order of x.
func Swap32(x uint32) uint32 { return bits.ReverseBytes32(x) }

// Swap64 reverses the byte order of x.
func Swap64(x uint64) uint64 { return bits.ReverseBytes64(x) }
