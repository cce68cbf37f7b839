//go:build 386 || amd64 || amd64p32 || alpha || arm || arm64 || loong64 || mipsle || mips64le || mips64p32le || nios2 || ppc64le || riscv || riscv64 || sh || wasm

package kvio

// HostBigEndian reports whether the host stores integers most significant
// byte first.
const HostBigEndian = false

// Hton16 converts x from host to network (big-endian) order.
func Hton16(x uint16) uint16 { return Swap16(x) }

// Hton32 converts x from host to network (big-endian) order.
func Hton32(x uint32) uint32 { return Swap32(x) }

// Hton64 converts x from host to network (big-endian) order.
func Hton64(x uint64) uint64 { return Swap64(x) }

// Ntoh16 converts x from network (big-endian) to host order.
func Ntoh16(x uint16) uint16 { return Swap16(x) }

// Ntoh32 converts x from network (big-endian) to host order.
func Ntoh32(x uint32) uint32 { return Swap32(x) }

// Ntoh64 converts x from network (big-endian) to host order.
func Ntoh64(x uint64) uint64 { return Swap64(x) }
