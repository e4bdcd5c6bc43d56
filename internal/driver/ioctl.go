package driver

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"ktap/internal/ktaperr"
)

// Ioctl command codes, named after the real kernel module's protocol
// (spec §6); there is no /dev/ktap character device here, so Transport
// dispatches them against an in-process Driver instead of a real fd.
const (
	CmdVersion = 1
	CmdRun     = 2
	CmdExit    = 3
)

// Version reports the toolchain version string the VERSION ioctl and
// the CLI's -V both surface. It is derived from a real uname(2) call
// (golang.org/x/sys/unix) the way the donor's userspace code shells out
// to uname for its build banner, rather than a hardcoded string.
func Version() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", ktaperr.Registrationf("uname: %v", err)
	}
	return "ktap 1.0 (" + cstr(uts.Sysname[:]) + " " + cstr(uts.Release[:]) + ")", nil
}

func cstr(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// NotifyInterrupt wires SIGINT (Ctrl-C) the way the real driver's
// install_exit_handler does, returning a channel that fires once when
// the user interrupts a running session, and a stop func to disarm it.
func NotifyInterrupt() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}
