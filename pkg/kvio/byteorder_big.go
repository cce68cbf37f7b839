//go:build armbe || arm64be || m68k || mips || mips64 || mips64p32 || ppc || ppc64 || s390 || s390x || shbe || sparc || sparc64

package kvio

// HostBigEndian reports whether the host stores integers most significant
// byte first.
const HostBigEndian = true

// Hton16 converts x from host to network (big-endian) order.
func Hton16(x uint16) uint16 { return x }

// Hton32 converts x from host to network (big-endian) order.
func Hton32(x uint32) uint32 { return x }

// Hton64 converts x from host to network (big-endian) order.
func Hton64(x uint64) uint64 { return x }

// Ntoh16 converts x from network (big-endian) to host order.
func Ntoh16(x uint16) uint16 { return x }

// Ntoh32 converts x from network (big-endian) to host order.
func Ntoh32(x uint32) uint32 { return x }

// Ntoh64 converts x from network (big-endian) to host order.
func Ntoh64(x uint64) uint64 { return x }
