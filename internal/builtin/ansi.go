package builtin

import (
	"strconv"

	"ktap/internal/value"
	"ktap/internal/vm"
)

// registerAnsi installs the ansi.* escape-sequence helpers of lib_ansi.c,
// writing through the same sink print/printf use.
func registerAnsi(rt *vm.Runtime) error {
	return registerLib(rt, "ansi", map[string]vm.GoFunc{
		"clear_screen": ansiLiteral("\033[2J\033[H"),
		"reset_color":  ansiLiteral("\033[0;0m"),
		"new_line":     ansiLiteral("\n"),
		"set_color":    ansiSetColor,
		"set_color2":   ansiSetColor2,
		"set_color3":   ansiSetColor3,
	})
}

func ansiLiteral(code string) vm.GoFunc {
	return func(th *vm.Thread, args []value.Value) ([]value.Value, error) {
		return nil, writeLine(th, code)
	}
}

func ansiSetColor(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	fg, ok := argNumber(args, 0)
	if !ok {
		return nil, argErrorf("ansi.set_color", "argument 1 must be a number")
	}
	return nil, writeLine(th, sgr(int(fg)))
}

func ansiSetColor2(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	fg, ok1 := argNumber(args, 0)
	bg, ok2 := argNumber(args, 1)
	if !ok1 || !ok2 {
		return nil, argErrorf("ansi.set_color2", "arguments 1-2 must be numbers")
	}
	return nil, writeLine(th, sgr(int(fg), int(bg)))
}

func ansiSetColor3(th *vm.Thread, args []value.Value) ([]value.Value, error) {
	fg, ok1 := argNumber(args, 0)
	bg, ok2 := argNumber(args, 1)
	attr, ok3 := argNumber(args, 2)
	if !ok1 || !ok2 || !ok3 {
		return nil, argErrorf("ansi.set_color3", "arguments 1-3 must be numbers")
	}
	if int(attr) == 0 {
		return nil, writeLine(th, sgr(int(fg), int(bg)))
	}
	return nil, writeLine(th, sgr(int(fg), int(bg), int(attr)))
}

// sgr formats a Select Graphic Rendition escape sequence for the given
// semicolon-joined parameters, mirroring kplib_ansi_set_color{,2,3}'s
// \033[...m output.
func sgr(params ...int) string {
	out := "\033["
	for i, p := range params {
		if i > 0 {
			out += ";"
		}
		out += strconv.Itoa(p)
	}
	return out + "m"
}
