package builtin

import (
	"strconv"
	"time"

	"ktap/internal/host"
	"ktap/internal/value"
	"ktap/internal/vm"
)

// timerHost is the subset of *host.Host the timer library drives.
type timerHost interface {
	TimerCreate(period time.Duration, mode host.TimerMode, fn func() error) error
}

func registerTimer(rt *vm.Runtime) error {
	return registerLib(rt, "timer", map[string]vm.GoFunc{
		"profile": timerCall(host.TimerProfile),
		"tick":    timerCall(host.TimerTick),
	})
}

// timerCall implements both `timer.profile(interval, fn)` (fires on
// every CPU) and `timer.tick(interval, fn)` (fires once per interval);
// the synthetic single-process host treats both identically since it has
// no real per-CPU clock.
func timerCall(mode host.TimerMode) vm.GoFunc {
	return func(th *vm.Thread, args []value.Value) ([]value.Value, error) {
		interval, ok := argString(args, 0)
		if !ok {
			return nil, argErrorf("timer", "argument 1 must be an interval string like \"100ms\" or \"1s\"")
		}
		fn, ok := argCallable(args, 1)
		if !ok {
			return nil, argErrorf("timer", "argument 2 must be a function")
		}
		period, err := parseInterval(interval)
		if err != nil {
			return nil, err
		}
		th2, ok := th.Host.(timerHost)
		if !ok {
			return nil, argErrorf("timer", "host does not support timer registration")
		}
		rt := th.RT
		h := th.Host
		return nil, th2.TimerCreate(period, mode, func() error {
			sub := vm.NewThread(rt, h)
			_, err := sub.Call(fn, nil, 0)
			return err
		})
	}
}

// parseInterval accepts ktap's suffix forms: sec/s, msec/ms, usec/us.
func parseInterval(s string) (time.Duration, error) {
	suffixes := []struct {
		suffix string
		unit   time.Duration
	}{
		{"usec", time.Microsecond}, {"us", time.Microsecond},
		{"msec", time.Millisecond}, {"ms", time.Millisecond},
		{"sec", time.Second}, {"s", time.Second},
	}
	for _, sfx := range suffixes {
		if len(s) > len(sfx.suffix) && s[len(s)-len(sfx.suffix):] == sfx.suffix {
			n, err := strconv.ParseFloat(s[:len(s)-len(sfx.suffix)], 64)
			if err != nil {
				return 0, argErrorf("timer", "invalid interval %q", s)
			}
			return time.Duration(n * float64(sfx.unit)), nil
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, argErrorf("timer", "invalid interval %q", s)
	}
	return time.Duration(n * float64(time.Second)), nil
}
