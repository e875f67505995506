package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"presip-lab/server/internal/domain"
	"presip-lab/server/internal/model"
	"presip-lab/server/internal/simulator"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Backend 客户端需要的编排器操作，*orchestrator.Orchestrator 满足该接口。
type Backend interface {
	Catalog() *domain.Catalog
	SelectRole(ctx context.Context, sessionID, roleID string) (model.SessionState, error)
	SelectScenario(ctx context.Context, sessionID, scenarioID string) (model.SessionState, error)
	ChangeLanguage(ctx context.Context, sessionID string, lang model.Language) (model.SessionState, error)
	SendMessage(ctx context.Context, sessionID, text string, mode model.MessageMode) (model.SessionState, error)
	EndSession(ctx context.Context, sessionID string) (model.SessionState, error)
	RequestCoachingTip(ctx context.Context, sessionID string) (string, error)
	Back(ctx context.Context, sessionID string) (model.SessionState, error)
	Restart(ctx context.Context, sessionID string) (model.SessionState, error)
}

// 最多展示的对话条数，更早的消息折叠。
const visibleMessages = 12

type stateMsg struct {
	state model.SessionState
	err   error
}

// snapshotMsg 来自 hub 订阅的推送。
type snapshotMsg struct {
	state model.SessionState
	ok    bool
}

type tipMsg struct {
	tip string
	err error
}

type Model struct {
	ctx       context.Context
	backend   Backend
	state     model.SessionState
	snapshots <-chan model.SessionState

	cursor  int
	input   textinput.Model
	spinner spinner.Model
	tip     string
	err     error
	width   int
}

// New 创建客户端。snapshots 可以为空，此时只依赖操作返回的快照。
func New(ctx context.Context, backend Backend, initial model.SessionState, snapshots <-chan model.SessionState) Model {
	ti := textinput.New()
	ti.CharLimit = 500
	ti.Width = 60
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorAccent)

	m := Model{
		ctx:       ctx,
		backend:   backend,
		state:     initial,
		snapshots: snapshots,
		input:     ti,
		spinner:   sp,
	}
	m.refreshPlaceholder()
	return m
}

// State 当前快照。
func (m Model) State() model.SessionState {
	return m.state
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitSnapshot())
}

func (m Model) waitSnapshot() tea.Cmd {
	if m.snapshots == nil {
		return nil
	}
	ch := m.snapshots
	return func() tea.Msg {
		s, ok := <-ch
		return snapshotMsg{state: s, ok: ok}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Width > 10 {
			m.input.Width = msg.Width - 10
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.accept(msg.state)
		return m, nil

	case snapshotMsg:
		if !msg.ok {
			m.snapshots = nil
			return m, nil
		}
		m.accept(msg.state)
		return m, m.waitSnapshot()

	case tipMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.tip = msg.tip
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "ctrl+l":
			return m, m.toggleLanguage()
		}
		switch m.state.Stage {
		case model.StageRoleSelection:
			return m.updateRoleSelection(msg)
		case model.StageScenarioSelection:
			return m.updateScenarioSelection(msg)
		case model.StageInteraction:
			return m.updateInteraction(msg)
		case model.StageFeedback:
			return m.updateFeedback(msg)
		}
	}
	return m, nil
}

// accept 只接受不比当前旧的快照，避免推送与返回值交错时回退。
func (m *Model) accept(next model.SessionState) {
	if next.SessionID != m.state.SessionID || next.UpdatedAt.Before(m.state.UpdatedAt) {
		return
	}
	if next.Stage != m.state.Stage {
		m.cursor = 0
		m.tip = ""
	}
	m.state = next
	m.refreshPlaceholder()
}

func (m *Model) refreshPlaceholder() {
	_, hint := model.EmptyTranscriptPrompt(m.state.Language)
	m.input.Placeholder = hint
}

func (m Model) updateRoleSelection(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	roles := m.backend.Catalog().Roles()
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "up", "k":
		m.cursor = max(0, m.cursor-1)
	case "down", "j":
		m.cursor = max(0, min(len(roles)-1, m.cursor+1))
	case "enter":
		if m.cursor < len(roles) {
			roleID := roles[m.cursor].ID
			return m, m.do(func(ctx context.Context, id string) (model.SessionState, error) {
				return m.backend.SelectRole(ctx, id, roleID)
			})
		}
	}
	return m, nil
}

func (m Model) updateScenarioSelection(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	scenarios := m.scenarios()
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc":
		return m, m.do(m.backend.Back)
	case "up", "k":
		m.cursor = max(0, m.cursor-1)
	case "down", "j":
		m.cursor = max(0, min(len(scenarios)-1, m.cursor+1))
	case "enter":
		if m.cursor < len(scenarios) {
			scenarioID := scenarios[m.cursor].ID
			return m, m.do(func(ctx context.Context, id string) (model.SessionState, error) {
				return m.backend.SelectScenario(ctx, id, scenarioID)
			})
		}
	}
	return m, nil
}

func (m Model) updateInteraction(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, m.do(m.backend.Back)
	case "ctrl+e":
		if m.state.Busy {
			return m, nil
		}
		return m, m.do(m.backend.EndSession)
	case "ctrl+t":
		return m, m.requestTip()
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.state.Busy {
			return m, nil
		}
		m.input.SetValue("")
		return m, m.send(text, model.ModeText)
	}

	// 输入框为空时数字键直接选择最后一条回复给出的选项。
	if m.input.Value() == "" && !m.state.Busy {
		if n, err := strconv.Atoi(msg.String()); err == nil {
			if opts := m.lastOptions(); n >= 1 && n <= len(opts) {
				return m, m.send(opts[n-1], model.ModeSelection)
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateFeedback(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "b":
		return m, m.do(m.backend.Back)
	case "r":
		return m, m.do(m.backend.Restart)
	}
	return m, nil
}

func (m Model) do(fn func(ctx context.Context, sessionID string) (model.SessionState, error)) tea.Cmd {
	ctx, id := m.ctx, m.state.SessionID
	return func() tea.Msg {
		s, err := fn(ctx, id)
		return stateMsg{state: s, err: err}
	}
}

func (m Model) send(text string, mode model.MessageMode) tea.Cmd {
	return m.do(func(ctx context.Context, id string) (model.SessionState, error) {
		return m.backend.SendMessage(ctx, id, text, mode)
	})
}

func (m Model) requestTip() tea.Cmd {
	ctx, id := m.ctx, m.state.SessionID
	return func() tea.Msg {
		tip, err := m.backend.RequestCoachingTip(ctx, id)
		return tipMsg{tip: tip, err: err}
	}
}

func (m Model) toggleLanguage() tea.Cmd {
	next := model.LanguageZH
	if m.state.Language == model.LanguageZH {
		next = model.LanguageEN
	}
	return m.do(func(ctx context.Context, id string) (model.SessionState, error) {
		return m.backend.ChangeLanguage(ctx, id, next)
	})
}

func (m Model) scenarios() []model.Scenario {
	if m.state.Role == nil {
		return nil
	}
	return m.backend.Catalog().ScenariosForRole(m.state.Role.ID)
}

// lastOptions 最后一条消息是 AI 且带选项时返回这些选项。
func (m Model) lastOptions() []string {
	if n := len(m.state.Messages); n > 0 {
		last := m.state.Messages[n-1]
		if last.Sender == model.SenderAI {
			return last.Options
		}
	}
	return nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Pre-SIP Practice Lab"))
	b.WriteString("  ")
	b.WriteString(helpStyle.Render(strings.ToUpper(string(m.state.Language))))
	b.WriteString("\n")
	b.WriteString(m.viewSteps())
	b.WriteString("\n\n")

	switch m.state.Stage {
	case model.StageRoleSelection:
		b.WriteString(m.viewRoles())
	case model.StageScenarioSelection:
		b.WriteString(m.viewScenarios())
	case model.StageInteraction:
		b.WriteString(m.viewInteraction())
	case model.StageFeedback:
		b.WriteString(m.viewFeedback())
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
	}
	return b.String()
}

func (m Model) viewSteps() string {
	parts := make([]string, 0, 4)
	for _, s := range model.Steps(m.state.Stage) {
		label := fmt.Sprintf("%d %s", s.Number, s.Label)
		switch {
		case s.Active:
			parts = append(parts, stepActiveStyle.Render(label))
		case s.Completed:
			parts = append(parts, stepDoneStyle.Render("✓ "+s.Label))
		default:
			parts = append(parts, stepStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) viewRoles() string {
	lang := m.state.Language
	var b strings.Builder
	for i, r := range m.backend.Catalog().Roles() {
		line := r.Title.Get(lang) + "  " + helpStyle.Render(r.Description.Get(lang))
		if i == m.cursor {
			b.WriteString(itemActiveStyle.Render("> " + line))
		} else {
			b.WriteString(itemStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ move • enter select • ctrl+l language • q quit"))
	return b.String()
}

func (m Model) viewScenarios() string {
	lang := m.state.Language
	var b strings.Builder
	for i, s := range m.scenarios() {
		line := fmt.Sprintf("%s [%s]", s.Title.Get(lang), s.Difficulty)
		if i == m.cursor {
			b.WriteString(itemActiveStyle.Render("> " + line))
			b.WriteString("\n")
			b.WriteString(itemStyle.Render(s.Description.Get(lang)))
			if len(s.Tags) > 0 {
				b.WriteString("\n")
				b.WriteString(itemStyle.Render(helpStyle.Render("#" + strings.Join(s.Tags, " #"))))
			}
		} else {
			b.WriteString(itemStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ move • enter start • esc back • q quit"))
	return b.String()
}

func (m Model) viewInteraction() string {
	lang := m.state.Language
	var b strings.Builder
	if sc := m.state.Scenario; sc != nil {
		b.WriteString(boxStyle.Render(sc.Title.Get(lang) + "\n" + helpStyle.Render(sc.Context.Get(lang))))
		b.WriteString("\n")
	}

	roleID := ""
	if m.state.Role != nil {
		roleID = m.state.Role.ID
	}
	msgs := m.state.Messages
	if len(msgs) == 0 {
		title, hint := model.EmptyTranscriptPrompt(lang)
		b.WriteString(itemStyle.Render(title + " · " + hint))
		b.WriteString("\n")
	}
	if len(msgs) > visibleMessages {
		b.WriteString(helpStyle.Render(fmt.Sprintf("  … %d earlier", len(msgs)-visibleMessages)))
		b.WriteString("\n")
		msgs = msgs[len(msgs)-visibleMessages:]
	}
	for _, msg := range msgs {
		label := model.SenderLabel(msg.Sender, roleID, lang)
		if msg.Sender == model.SenderUser {
			b.WriteString(userLabelStyle.Render(label))
		} else {
			b.WriteString(aiLabelStyle.Render(label))
		}
		b.WriteString(": ")
		b.WriteString(msg.Text)
		b.WriteString("\n")
	}
	for i, opt := range m.lastOptions() {
		b.WriteString(optionStyle.Render(fmt.Sprintf("%d) %s", i+1, opt)))
		b.WriteString("\n")
	}
	if m.state.Busy {
		b.WriteString(m.spinner.View())
		b.WriteString(helpStyle.Render(" ..."))
		b.WriteString("\n")
	}

	if m.tip != "" {
		b.WriteString(m.viewTip())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(model.FocusHint(roleID)))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • 1-9 pick option • ctrl+t tip • ctrl+e end • esc back"))
	return b.String()
}

func (m Model) viewTip() string {
	var lines []string
	for _, seg := range simulator.ParseTip(m.tip) {
		if seg.Title != "" {
			lines = append(lines, scoreStyle.Render(seg.Title)+": "+seg.Content)
		} else {
			lines = append(lines, seg.Content)
		}
	}
	return tipStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) viewFeedback() string {
	zh := m.state.Language == model.LanguageZH
	var b strings.Builder
	fb := m.state.Feedback
	switch {
	case m.state.Busy:
		b.WriteString(m.spinner.View())
		b.WriteString(helpStyle.Render(pick(zh, " 正在生成评估…", " Generating feedback...")))
	case m.state.FeedbackFailed || fb == nil:
		b.WriteString(errorStyle.Render(pick(zh, "评估暂不可用。", "Feedback is unavailable right now.")))
	default:
		b.WriteString(scoreStyle.Render(fmt.Sprintf("%s %d/100", pick(zh, "语言能力", "Language Proficiency"), fb.LanguageProficiency.Score)))
		b.WriteString("\n")
		b.WriteString(itemStyle.Render(fb.LanguageProficiency.Comment))
		b.WriteString("\n")
		b.WriteString(scoreStyle.Render(fmt.Sprintf("%s %d/5", pick(zh, "NEL 契合度", "NEL Alignment"), fb.NELAlignment.Score)))
		b.WriteString("\n")
		b.WriteString(itemStyle.Render(fb.NELAlignment.Comment))
		b.WriteString("\n\n")
		b.WriteString(userLabelStyle.Render(pick(zh, "优点", "Strengths")))
		b.WriteString("\n")
		for _, s := range fb.Strengths {
			b.WriteString(itemStyle.Render("+ " + s))
			b.WriteString("\n")
		}
		b.WriteString(aiLabelStyle.Render(pick(zh, "改进建议", "Suggestions")))
		b.WriteString("\n")
		for _, s := range fb.Suggestions {
			b.WriteString(itemStyle.Render("- " + s))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("r restart • esc back to scenarios • q quit"))
	return b.String()
}

func pick(zh bool, zhText, enText string) string {
	if zh {
		return zhText
	}
	return enText
}
