// Package driver implements the userspace loader: chunk compilation and
// loading, library registration, the ioctl-shaped run transport, and the
// run loop a CLI front-end drives — grounded on userspace/kp_main.c and
// userspace/main.c in original_source, adapted from one process forking
// a kernel ioctl into one process driving an in-process VM session.
package driver

// Option mirrors struct ktap_user_parm / the option struct spec §6
// describes for KTAP_CMD_IOC_RUN: everything the CLI front-end gathers
// before the ioctl transport hands it to the running session.
type Option struct {
	Trunk    []byte // compiled bytecode chunk
	TrunkLen int
	Argc     int
	Argv     []string

	Verbose        bool
	TracePID       int
	Workload       []string
	TraceCPU       int
	PrintTimestamp bool
	Quiet          bool
	DryRun         bool
}
