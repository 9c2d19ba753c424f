package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"atbridge/internal/a11y"
	"atbridge/internal/health"
	"atbridge/internal/ipc"
)

// ANSI escape codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorRed    = "\033[31m"
)

type printer struct {
	w     io.Writer
	color bool
}

func (g *globals) printer() *printer {
	p := &printer{w: g.out}
	if f, ok := g.out.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 && os.Getenv("NO_COLOR") == "" {
			p.color = true
		}
	}
	return p
}

// print writes v as JSON when --json is set, otherwise runs human.
func (g *globals) print(v any, human func(p *printer)) error {
	p := g.printer()
	if g.json {
		return p.json(v)
	}
	human(p)
	return nil
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + colorReset
}

func (p *printer) line(s string) { fmt.Fprintln(p.w, s) }

func (p *printer) dim(s string) { p.line(p.paint(colorDim, s)) }

func (p *printer) section(title string) { p.line(p.paint(colorBold, title)) }

func (p *printer) field(name string, value any) {
	fmt.Fprintf(p.w, "  %-14s %v\n", p.paint(colorDim, name), value)
}

func (p *printer) yesNo(v bool) string {
	if v {
		return p.paint(colorGreen, "yes")
	}
	return p.paint(colorYellow, "no")
}

func (p *printer) status(st *ipc.StatusResponse) {
	b := st.Bridge
	p.section("DAEMON")
	p.field("version", st.Version)
	if !st.StartedAt.IsZero() {
		p.field("uptime", time.Since(st.StartedAt).Round(time.Second))
	}
	p.field("clients", st.Clients)

	p.section("ACCESSIBILITY")
	p.field("initialized", p.yesNo(b.Initialized))
	p.field("connected", p.yesNo(b.Connected))
	p.field("braille", p.yesNo(b.Braille))
	p.field("listeners", b.EventListeners)

	p.section("CAPTURE")
	p.field("running", p.yesNo(b.Capture.Running))
	p.field("workers", b.Capture.Workers)
	for _, d := range b.Capture.Devices {
		p.field("device", fmt.Sprintf("%s (%s)", d.Path, d.Name))
	}
	if len(b.Capture.Modifiers) > 0 {
		p.field("modifiers", strings.Join(b.Capture.Modifiers, " "))
	}
	if len(b.Capture.Gestures) > 0 {
		p.field("gestures", strings.Join(b.Capture.Gestures, ", "))
	}
	p.field("handlers", b.InputHandlers)
	if b.Capture.Error != "" {
		p.field("error", p.paint(colorRed, b.Capture.Error))
	}
}

func (p *printer) statusColor(s health.Status) string {
	switch s {
	case health.StatusHealthy:
		return p.paint(colorGreen, string(s))
	case health.StatusDegraded:
		return p.paint(colorYellow, string(s))
	case health.StatusUnhealthy:
		return p.paint(colorRed, string(s))
	}
	return string(s)
}

func (p *printer) health(rep *health.Report) {
	p.line(fmt.Sprintf("%s  ready=%s", p.statusColor(rep.Status), p.yesNo(rep.Ready)))
	names := make([]string, 0, len(rep.Components))
	for name := range rep.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := rep.Components[name]
		msg := r.Message
		if r.Error != "" {
			msg += ": " + r.Error
		}
		p.field(name, p.statusColor(r.Status)+"  "+msg)
	}
}

func (p *printer) nodeResponse(resp *ipc.NodeResponse, missing string) {
	if !resp.Found || resp.Node == nil {
		p.dim(missing)
		return
	}
	p.node(*resp.Node, 0)
}

func (p *printer) node(n ipc.NodeInfo, indent int) {
	name := n.Name
	if name == "" {
		name = p.paint(colorDim, "(unnamed)")
	}
	fmt.Fprintf(p.w, "%s%s %s  %s", strings.Repeat("  ", indent), p.paint(colorCyan, "["+n.Role+"]"), name, p.paint(colorDim, n.Ref.String()))
	if len(n.States) > 0 {
		fmt.Fprintf(p.w, "  %s", p.paint(colorDim, strings.Join(n.States, ",")))
	}
	fmt.Fprintln(p.w)
	for _, c := range n.Children {
		p.node(c, indent+1)
	}
	if hidden := n.ChildCount - len(n.Children); hidden > 0 && len(n.Children) == 0 {
		p.line(strings.Repeat("  ", indent+1) + p.paint(colorDim, fmt.Sprintf("... %d children", hidden)))
	}
}

func (p *printer) apps(apps []a11y.AppSummary) {
	if len(apps) == 0 {
		p.dim("no applications")
		return
	}
	for _, a := range apps {
		fmt.Fprintf(p.w, "%-24s pid %-7d %s\n", a.Name, a.PID, p.paint(colorDim, a.Ref.String()))
	}
}

func (p *printer) event(ev *ipc.Event) {
	ts := ev.Timestamp.Local().Format("15:04:05.000")
	fmt.Fprintf(p.w, "%s %s %s\n", p.paint(colorDim, ts), p.paint(colorCyan, ev.Type.String()), string(ev.Data))
}
