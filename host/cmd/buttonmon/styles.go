package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	pressStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#008700", Dark: "#5FFF87"})
	releaseStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#626262", Dark: "#A8A8A8"})
	nameStyle    = lipgloss.NewStyle().Bold(true)
)

func errorStyle() lipgloss.Style {
	if !isTerminal(os.Stderr) {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// eventPrinter writes one line per transition, styled when out is a terminal
type eventPrinter struct {
	out    io.Writer
	styled bool
}

func newEventPrinter(out io.Writer) *eventPrinter {
	return &eventPrinter{out: out, styled: isTerminal(out)}
}

func (p *eventPrinter) print(at time.Time, name string, pin uint8, pressed bool, extra string) {
	action, style := "released", releaseStyle
	if pressed {
		action, style = "pressed", pressStyle
	}
	label := fmt.Sprintf("%s (pin %d)", name, pin)
	if p.styled {
		action = style.Render(action)
		label = nameStyle.Render(name) + fmt.Sprintf(" (pin %d)", pin)
	}

	line := fmt.Sprintf("%s  %s %s", at.Format("15:04:05.000"), label, action)
	if extra != "" {
		line += "  " + extra
	}
	fmt.Fprintln(p.out, line)
}
