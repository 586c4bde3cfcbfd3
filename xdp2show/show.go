// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

// Package xdp2show is a terminal "show" collaborator (spec §6: "CLI:
// invokes 'show' operations that read engine counters; not part of
// engine"). It renders a live feed of [xdp2.TraceEvent] values and the most
// recent [xdp2.CtrlData].Var snapshot, but never touches a Parser or a
// packet buffer itself — it is strictly downstream of the engine.
package xdp2show

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xdp2-dev/xdp2go"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	counterKey  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	stopOkay    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stopFail    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// keyMap is the show UI's only interaction surface: scroll the trace log and
// quit. Everything else is read-only telemetry.
type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Quit key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:   key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll up")),
		Down: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll down")),
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// Snapshot is one update pushed into the show UI: a trace event plus the
// ctrl.Var counters as they stood immediately after it. The engine itself
// never constructs one of these — a caller's handler or trace sink does, by
// reading the CtrlData it already has a pointer to (spec §4.9: "ctrl.var...
// are observable").
type Snapshot struct {
	Event xdp2.TraceEvent
	Var   xdp2.VarData
}

// Model is a bubbletea program model that renders a scrolling log of
// Snapshots plus the latest counters. Feed it over the channel passed to
// [New]; it receives one Snapshot per Update, so a producer whose channel
// buffer is full waits until the model catches up.
type Model struct {
	keys     keyMap
	vp       viewport.Model
	lines    []string
	latest   Snapshot
	haveSeen bool
	ch       <-chan Snapshot
	done     bool
}

// New constructs a show Model that reads Snapshots from ch until it's
// closed or the user quits.
func New(ch <-chan Snapshot) Model {
	vp := viewport.New(80, 20)
	return Model{
		keys: defaultKeyMap(),
		vp:   vp,
		ch:   ch,
	}
}

// waitForSnapshot is the standard bubbletea "external activity" pattern: a
// Cmd that blocks on the channel and turns the next value (or its closure)
// into a Msg, re-armed after every Update.
func waitForSnapshot(ch <-chan Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return snapshotClosedMsg{}
		}
		return snap
	}
}

type snapshotClosedMsg struct{}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.ch)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.vp.Height = msg.Height - 4
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.done = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd

	case Snapshot:
		m.latest = msg
		m.haveSeen = true
		m.lines = append(m.lines, formatSnapshot(msg))
		const maxLines = 2000
		if len(m.lines) > maxLines {
			m.lines = m.lines[len(m.lines)-maxLines:]
		}
		m.vp.SetContent(strings.Join(m.lines, "\n"))
		m.vp.GotoBottom()
		return m, waitForSnapshot(m.ch)

	case snapshotClosedMsg:
		m.done = true
		return m, nil
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("xdp2 — live parse trace"))
	b.WriteByte('\n')
	b.WriteString(m.counterLine())
	b.WriteByte('\n')
	b.WriteString(m.vp.View())
	b.WriteByte('\n')
	b.WriteString(counterKey.Render("↑/↓ scroll · q quit"))
	return b.String()
}

func (m Model) counterLine() string {
	if !m.haveSeen {
		return counterKey.Render("waiting for first packet...")
	}
	v := m.latest.Var
	status := stopOkay
	if !v.RetCode.IsOkay() {
		status = stopFail
	}
	name := "-"
	if v.LastNode != nil {
		name = v.LastNode.Name
	}
	return fmt.Sprintf(
		"%s %s %s %s %s",
		counterKey.Render(fmt.Sprintf("nodes=%d", v.NodeCnt)),
		counterKey.Render(fmt.Sprintf("encaps=%d", v.Encaps)),
		counterKey.Render(fmt.Sprintf("tlv_levels=%d", v.TLVLevels)),
		counterKey.Render(fmt.Sprintf("last=%s", name)),
		status.Render(v.RetCode.String()),
	)
}

func formatSnapshot(s Snapshot) string {
	e := s.Event
	switch e.Kind {
	case xdp2.TraceStop:
		return fmt.Sprintf("[%s] status=%s", e.Kind, e.Status)
	default:
		return fmt.Sprintf("[%s] node=%s off=%d len=%d", e.Kind, e.Node, e.Offset, e.Len)
	}
}

// Done reports whether the model has quit or its channel closed, for a
// caller embedding Model outside of tea.NewProgram's own run loop.
func (m Model) Done() bool { return m.done }

// Run starts a bubbletea program rendering ch until the user quits. Closing
// ch stops the model from reading but does not end the program; the last
// state stays on screen. It is the convenience entry point cmd/xdp2dump
// uses; library callers that want to compose the model into a larger
// program should use New directly instead.
func Run(ch <-chan Snapshot) error {
	p := tea.NewProgram(New(ch))
	_, err := p.Run()
	return err
}
