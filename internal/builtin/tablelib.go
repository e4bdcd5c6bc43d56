package builtin

import (
	"ktap/internal/table"
	"ktap/internal/value"
	"ktap/internal/vm"
)

// registerTableLib installs table.new(narr, nrec), the table library's
// only function, matching kplib_table_new's preallocation hint.
func registerTableLib(rt *vm.Runtime) error {
	return registerLib(rt, "table", map[string]vm.GoFunc{
		"new": tableNew,
	})
}

func tableNew(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	narr, _ := argNumber(args, 0)
	nrec, _ := argNumber(args, 1)
	hbits := 0
	for (1 << uint(hbits)) < int(nrec) {
		hbits++
	}
	t := table.New(int(narr), hbits)
	return []value.Value{table.ToValue(t)}, nil
}
