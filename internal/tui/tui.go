// Package tui provides a Bubble Tea front end for building and sending one
// scan upload.
package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/scanup/internal/picker"
	"github.com/fakeyudi/scanup/internal/session"
)

type stage int

const (
	stageTitle stage = iota
	stageFiles
	stageBrowse
	stageSubmitting
	stageDone
)

// chromeRows is the title bar, stage header and status bar.
const chromeRows = 6

// resultMsg carries a submission result back into the update loop.
type resultMsg session.Result

// Options configures the TUI.
type Options struct {
	StartDir string
	Accept   picker.Accept
	Endpoint string // shown in the title bar
}

// Model is the root Bubble Tea model. It never touches session state
// directly; every change goes through the controller's operations.
type Model struct {
	ctx  context.Context
	ctrl *session.Controller
	opts Options

	stage   stage
	title   textinput.Model
	browser filepicker.Model
	batch   []string // paths chosen in the current browse
	spinner spinner.Model
	keys    keyMap
	help    help.Model

	width  int
	height int
	notice string
	result *session.Result
}

// New creates the model for ctrl. The controller should be idle.
func New(ctx context.Context, ctrl *session.Controller, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Recipe title"
	ti.CharLimit = 0
	ti.Width = 50
	ti.Focus()

	fp := filepicker.New()
	fp.CurrentDirectory = opts.StartDir
	if abs, err := filepath.Abs(opts.StartDir); err == nil {
		fp.CurrentDirectory = abs
	}
	fp.AllowedTypes = opts.Accept.Extensions()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:     ctx,
		ctrl:    ctrl,
		opts:    opts,
		title:   ti,
		browser: fp,
		spinner: sp,
		keys:    defaultKeyMap(),
		help:    help.New(),
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		var cmd tea.Cmd
		m.browser, cmd = m.browser.Update(tea.WindowSizeMsg{Width: msg.Width, Height: max(msg.Height-chromeRows, 1)})
		return m, cmd

	case resultMsg:
		res := session.Result(msg)
		m.result = &res
		m.stage = stageDone
		return m, nil

	case spinner.TickMsg:
		if m.stage != stageSubmitting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Force) {
			return m, tea.Quit
		}
		switch m.stage {
		case stageTitle:
			return m.updateTitle(msg)
		case stageFiles:
			return m.updateFiles(msg)
		case stageBrowse:
			return m.updateBrowse(msg)
		case stageDone:
			return m.updateDone(msg)
		}
		return m, nil
	}

	// Directory listings and other picker-internal messages.
	if m.stage == stageBrowse {
		return m.updateBrowse(msg)
	}
	if m.stage == stageTitle {
		var cmd tea.Cmd
		m.title, cmd = m.title.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateTitle(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Confirm):
		if err := m.ctrl.StartSession(m.title.Value()); err != nil {
			m.notice = err.Error()
			return m, nil
		}
		m.title.Blur()
		m.notice = ""
		m.result = nil
		m.stage = stageFiles
		return m, nil
	}
	var cmd tea.Cmd
	m.title, cmd = m.title.Update(msg)
	return m, cmd
}

func (m Model) updateFiles(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.Back):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Browse):
		m.stage = stageBrowse
		m.batch = nil
		m.notice = ""
		return m, m.browser.Init()
	case key.Matches(msg, m.keys.Submit):
		return m.send(m.ctrl.Submit)
	case key.Matches(msg, m.keys.New):
		return m.restart()
	}
	return m, nil
}

// updateBrowse feeds the file picker. Each picker visit is one selection
// event: the batch is handed to the controller only when browsing ends.
func (m Model) updateBrowse(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok && key.Matches(k, m.keys.Done) {
		files, err := picker.FromPaths(m.batch)
		if err != nil {
			m.notice = err.Error()
			return m, nil
		}
		if err := m.ctrl.FilesSelected(files...); err != nil {
			m.notice = err.Error()
		}
		m.batch = nil
		m.stage = stageFiles
		return m, nil
	}

	var cmd tea.Cmd
	m.browser, cmd = m.browser.Update(msg)
	if ok, path := m.browser.DidSelectFile(msg); ok {
		m.batch = append(m.batch, path)
		m.notice = ""
	}
	if ok, path := m.browser.DidSelectDisabledFile(msg); ok {
		m.notice = filepath.Base(path) + " is not an accepted file type"
	}
	return m, cmd
}

func (m Model) updateDone(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.Back):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Retry):
		if m.result == nil || m.result.OK() {
			return m, nil
		}
		return m.send(m.ctrl.Retry)
	case key.Matches(msg, m.keys.New):
		return m.restart()
	}
	return m, nil
}

func (m Model) send(op func(context.Context) (<-chan session.Result, error)) (tea.Model, tea.Cmd) {
	ch, err := op(m.ctx)
	if err != nil {
		m.notice = err.Error()
		return m, nil
	}
	m.notice = ""
	m.result = nil
	m.stage = stageSubmitting
	return m, tea.Batch(m.spinner.Tick, waitForResult(ch))
}

func (m Model) restart() (tea.Model, tea.Cmd) {
	m.title.Reset()
	m.title.Focus()
	m.result = nil
	m.notice = ""
	m.stage = stageTitle
	return m, textinput.Blink
}

func waitForResult(ch <-chan session.Result) tea.Cmd {
	return func() tea.Msg {
		return resultMsg(<-ch)
	}
}

// ── View ──────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	bar := titleStyle.Width(width).Render("  scanup  " + m.opts.Endpoint)

	var body string
	switch m.stage {
	case stageTitle:
		body = heading("New scan") + "  " + m.title.View() + "\n"
	case stageFiles:
		body = m.viewFiles()
	case stageBrowse:
		body = m.viewBrowse()
	case stageSubmitting:
		body = heading("Uploading") + fmt.Sprintf("  %s sending %q with %d file(s)…\n",
			m.spinner.View(), m.ctrl.Title(), len(m.ctrl.Files()))
	case stageDone:
		body = m.viewDone()
	}
	if m.notice != "" {
		body += "\n" + failureStyle.Render("  "+m.notice) + "\n"
	}

	status := statusBarStyle.Width(width).Render(m.help.ShortHelpView(m.stageKeys()))
	return lipgloss.JoinVertical(lipgloss.Left, bar, body, status)
}

func (m Model) stageKeys() []key.Binding {
	switch m.stage {
	case stageTitle:
		return []key.Binding{m.keys.Confirm, m.keys.Back}
	case stageFiles:
		return []key.Binding{m.keys.Browse, m.keys.Submit, m.keys.New, m.keys.Quit}
	case stageBrowse:
		return []key.Binding{
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select file")),
			m.keys.Done,
		}
	case stageDone:
		if m.result != nil && !m.result.OK() {
			return []key.Binding{m.keys.Retry, m.keys.New, m.keys.Quit}
		}
		return []key.Binding{m.keys.New, m.keys.Quit}
	}
	return []key.Binding{m.keys.Force}
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func (m Model) viewFiles() string {
	var sb strings.Builder
	sb.WriteString(heading("Scan"))
	sb.WriteString(labelStyle.Render("  Title:") + "  " + m.ctrl.Title() + "\n\n")

	files := m.ctrl.Files()
	sb.WriteString(labelStyle.Render(fmt.Sprintf("  Files (%d)", len(files))) + "\n")
	if len(files) == 0 {
		sb.WriteString(dimStyle.Render("  (none yet, press b to browse)") + "\n")
		return sb.String()
	}
	for i, f := range files {
		sb.WriteString(bulletStyle.Render("  •") + "  " +
			fieldStyle.Render(fmt.Sprintf("%-10s", session.PhotoField(i))) + "  " + f.Name() + "\n")
	}
	return sb.String()
}

func (m Model) viewBrowse() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Browse  %s", dimStyle.Render(m.browser.CurrentDirectory))))
	sb.WriteString(m.browser.View() + "\n")
	if len(m.batch) > 0 {
		names := make([]string, len(m.batch))
		for i, p := range m.batch {
			names[i] = filepath.Base(p)
		}
		sb.WriteString("\n" + labelStyle.Render(fmt.Sprintf("  Selected (%d):", len(m.batch))) +
			"  " + strings.Join(names, ", ") + "\n")
	}
	return sb.String()
}

func (m Model) viewDone() string {
	var sb strings.Builder
	if m.result == nil {
		return ""
	}
	if m.result.OK() {
		sb.WriteString(heading(successStyle.Render("Uploaded")))
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, m.result.Body, "  ", "  "); err == nil {
			sb.WriteString("  " + pretty.String() + "\n")
		} else {
			sb.WriteString("  " + string(m.result.Body) + "\n")
		}
		return sb.String()
	}
	sb.WriteString(heading(failureStyle.Render("Upload failed")))
	sb.WriteString("  " + m.result.Err.Error() + "\n\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  %d file(s) are still queued; press r to retry.", len(m.ctrl.Files()))) + "\n")
	return sb.String()
}

// Run starts the TUI and blocks until the user quits.
func Run(ctx context.Context, ctrl *session.Controller, opts Options) error {
	p := tea.NewProgram(New(ctx, ctrl, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
