package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/wasm-executor/errors"
	"github.com/wippyai/wasm-executor/executor"
	"github.com/wippyai/wasm-executor/hostenv"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	codeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactively run guest codes against the shared state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.InvalidInput(errors.PhaseExecute, "shell needs an interactive terminal")
			}
			m := newShellModel(cmd.Context(), a.executor(a.cfg.State))
			_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}

type shellModel struct {
	ctx   context.Context
	ex    *executor.Executor
	err   error
	codes []string
	input textinput.Model

	result   string
	selected int
	mode     shellMode
}

type shellMode int

const (
	modeSelect shellMode = iota
	modeEditVal
	modeResult
)

type codesMsg struct {
	err   error
	codes []string
}

type executedMsg struct {
	err   error
	code  string
	state hostenv.State
}

func newShellModel(ctx context.Context, ex *executor.Executor) *shellModel {
	return &shellModel{ctx: ctx, ex: ex, mode: modeSelect}
}

func (m *shellModel) Init() tea.Cmd {
	return m.listCodes
}

func (m *shellModel) listCodes() tea.Msg {
	codes, err := m.ex.List()
	return codesMsg{codes: codes, err: err}
}

func (m *shellModel) run(code string, previous bool) tea.Cmd {
	return func() tea.Msg {
		if previous {
			code = m.ex.Previous()
			state, err := m.ex.ExecutePrevious(m.ctx)
			return executedMsg{code: code, state: state, err: err}
		}
		state, err := m.ex.Execute(m.ctx, code)
		return executedMsg{code: code, state: state, err: err}
	}
}

func (m *shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode == modeEditVal {
			return m.updateEditVal(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.mode == modeSelect && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.mode == modeSelect && m.selected < len(m.codes)-1 {
				m.selected++
			}

		case "enter":
			switch m.mode {
			case modeSelect:
				if len(m.codes) > 0 {
					return m, m.run(m.codes[m.selected], false)
				}
			case modeResult:
				m.mode = modeSelect
				m.result = ""
				m.err = nil
			}

		case "p":
			if m.mode == modeSelect {
				return m, m.run("", true)
			}

		case "s":
			if m.mode == modeSelect {
				ti := textinput.New()
				ti.Prompt = "val: "
				ti.Placeholder = "u32"
				ti.SetValue(strconv.FormatUint(uint64(m.ex.State().Val), 10))
				ti.Width = 20
				ti.Focus()
				m.input = ti
				m.mode = modeEditVal
			}

		case "r":
			if m.mode == modeSelect {
				return m, m.listCodes
			}

		case "esc":
			if m.mode == modeResult {
				m.mode = modeSelect
				m.result = ""
				m.err = nil
			}
		}

	case codesMsg:
		m.codes = msg.codes
		m.err = msg.err
		if m.selected >= len(m.codes) {
			m.selected = 0
		}

	case executedMsg:
		m.err = msg.err
		m.result = ""
		if msg.err == nil {
			m.result = msg.code + ": " + msg.state.String()
		}
		m.mode = modeResult
	}

	return m, nil
}

func (m *shellModel) updateEditVal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.mode = modeSelect
		return m, nil
	case "enter":
		v, err := strconv.ParseUint(strings.TrimSpace(m.input.Value()), 10, 32)
		if err != nil {
			m.err = errors.New(errors.PhaseExecute, errors.KindInvalidInput).
				Value(m.input.Value()).
				Detail("state value must be a u32").
				Build()
			m.mode = modeResult
			return m, nil
		}
		s := m.ex.State()
		s.Val = uint32(v)
		m.ex.SetState(s)
		m.mode = modeSelect
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *shellModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("wasmexec"))
	b.WriteString(" ")
	b.WriteString(m.ex.Dir())
	b.WriteString("\n\n")
	b.WriteString("state: ")
	b.WriteString(stateStyle.Render(m.ex.State().String()))
	if prev := m.ex.Previous(); prev != "" {
		b.WriteString("  previous: ")
		b.WriteString(codeStyle.Render(prev))
	}
	b.WriteString("\n\n")

	switch m.mode {
	case modeSelect:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n\n")
		}
		if len(m.codes) == 0 {
			b.WriteString("No codes found.\n")
		}
		for i, code := range m.codes {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + code))
			} else {
				b.WriteString("  " + codeStyle.Render(code))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter run • p run previous • s set val • r reload • q quit"))

	case modeEditVal:
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter save • esc cancel"))

	case modeResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
			b.WriteString(helpStyle.Render("state unchanged"))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}
