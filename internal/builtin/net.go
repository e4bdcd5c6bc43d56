package builtin

import (
	"fmt"

	"ktap/internal/strpool"
	"ktap/internal/value"
	"ktap/internal/vm"
)

// registerNet installs net.format_ip_addr, the only net.* function this
// host can honor without a real kernel socket pointer behind
// ip_sock_saddr/ip_sock_daddr's first argument.
func registerNet(rt *vm.Runtime) error {
	return registerLib(rt, "net", map[string]vm.GoFunc{
		"format_ip_addr": netFormatIPAddr,
		"ip_sock_saddr":  netUnsupportedSock,
		"ip_sock_daddr":  netUnsupportedSock,
	})
}

// netFormatIPAddr renders a uint32 as a dotted quad, low byte first: the
// order lib_net.c's %pI4 gives for a network-order address read as a
// number on a little-endian host (0x01020304 renders as 4.3.2.1).
func netFormatIPAddr(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	n, ok := argNumber(args, 0)
	if !ok {
		return nil, argErrorf("net.format_ip_addr", "argument 1 must be a number")
	}
	ip := uint32(int64(n))
	s := fmt.Sprintf("%d.%d.%d.%d", byte(ip), byte(ip>>8), byte(ip>>16), byte(ip>>24))
	interned, err := th.RT.Pool.Intern(s)
	if err != nil {
		return nil, err
	}
	return []value.Value{strpool.ToValue(interned)}, nil
}

func netUnsupportedSock(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	return nil, argErrorf("net", "ip_sock_saddr/ip_sock_daddr require a kernel socket, unavailable in this host")
}
