package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

type level int

const (
	levelInfo level = iota
	levelOK
	levelWarn
	levelError
)

var levelStyles = [...]struct {
	tag   string
	color string
}{
	levelInfo:  {"INFO", "\x1b[34m"},
	levelOK:    {"OK", "\x1b[32m"},
	levelWarn:  {"WARN", "\x1b[33m"},
	levelError: {"ERROR", "\x1b[31m"},
}

const ansiReset = "\x1b[0m"

// statusPrinter writes "== Section ==" headers followed by aligned
// "label: [TAG] detail" rows, coloured when the output is a terminal.
type statusPrinter struct {
	out   io.Writer
	color bool
	width int
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	return &statusPrinter{out: out, color: isTerminal(out), width: 18}
}

func (p *statusPrinter) section(title string) {
	p.paint(levelInfo, "== "+title+" ==")
}

func (p *statusPrinter) row(label string, lvl level, detail string) {
	tag := "[" + levelStyles[lvl].tag + "]"
	if detail != "" {
		tag += " " + detail
	}
	p.paint(lvl, fmt.Sprintf("  %-*s %s", p.width, label+":", tag))
}

func (p *statusPrinter) paint(lvl level, text string) {
	if p.color {
		text = levelStyles[lvl].color + text + ansiReset
	}
	fmt.Fprintln(p.out, text)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
