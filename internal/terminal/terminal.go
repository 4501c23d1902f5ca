// Package terminal detects TTY capabilities for the panel CLI.
//
// The capabilities feed the output writer: colors and spinners are
// disabled off-TTY, under NO_COLOR (https://no-color.org/), and for
// TERM=dumb.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capability information.
type Info struct {
	IsTTY     bool
	NoColor   bool
	Width     int
	Height    int
	ForceFlag bool // Set when --no-color flag is used
}

// Detect returns terminal information for the current environment.
func Detect() *Info {
	stdoutFD := int(os.Stdout.Fd())
	isTTY := term.IsTerminal(stdoutFD)

	width, height := 80, 24
	if isTTY {
		if w, h, err := term.GetSize(stdoutFD); err == nil {
			width, height = w, h
		}
	}

	return &Info{
		IsTTY:   isTTY,
		NoColor: noColorRequested(),
		Width:   width,
		Height:  height,
	}
}

// noColorRequested honors the NO_COLOR convention and treats TERM=dumb
// as a terminal without escape sequence support.
func noColorRequested() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return true
	}

	return os.Getenv("TERM") == "dumb"
}

// ColorEnabled returns true if colored output should be used.
func (t *Info) ColorEnabled() bool {
	if t.ForceFlag {
		return false
	}

	return t.IsTTY && !t.NoColor
}

// InteractiveEnabled returns true if interactive prompts are allowed.
func (t *Info) InteractiveEnabled() bool {
	return t.IsTTY
}

// SpinnersEnabled returns true if spinners should be used.
func (t *Info) SpinnersEnabled() bool {
	return t.IsTTY && !t.NoColor
}
