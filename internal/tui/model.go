package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/domain"
	"ragchat/internal/orchestrator"
)

// Conversation is the TUI-facing subset of the orchestrator.
type Conversation interface {
	Stream(ctx context.Context, threadID, userText string) *orchestrator.Stream
}

type entry struct {
	role    domain.Role
	text    string
	sources []string
	failed  bool
}

type fragmentMsg domain.Fragment

type turnDoneMsg struct {
	res *orchestrator.TurnResult
	err error
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx      context.Context
	conv     Conversation
	threadID string
	title    string

	input    textinput.Model
	viewport viewport.Model

	transcript []entry
	pending    string
	stream     *orchestrator.Stream

	// Retrieved context of the last turn, browsable with tab, up and down.
	docs        []domain.RetrievedDoc
	showContext bool
	cursor      int
	lastQuery   string

	status     string
	ready      bool
	terminated bool
}

// New creates a chat model bound to one thread.
func New(ctx context.Context, conv Conversation, threadID, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter (tab: context, ctrl+c: quit)"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		conv:     conv,
		threadID: threadID,
		title:    title,
		input:    ti,
		viewport: vp,
		status:   fmt.Sprintf("Thread %q. Say bye to leave.", threadID),
	}
}

// Terminated reports whether the conversation ended with a farewell.
func (m Model) Terminated() bool { return m.terminated }

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func waitFragment(st *orchestrator.Stream) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-st.Fragments()
		if !ok {
			res, err := st.Wait()
			return turnDoneMsg{res: res, err: err}
		}
		return fragmentMsg(f)
	}
}

// Update handles key, window and turn events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := bodyBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil

	case fragmentMsg:
		m.pending += msg.Text
		m.refresh()
		return m, waitFragment(m.stream)

	case turnDoneMsg:
		return m.finishTurn(msg)

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			if m.stream != nil {
				m.stream.Abandon()
			}
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			return m.submit()
		case "tab":
			m.showContext = !m.showContext
			m.refresh()
			return m, nil
		case "down":
			if m.showContext && len(m.docs) > 0 {
				m.cursor = (m.cursor + 1) % len(m.docs)
				m.refresh()
				return m, nil
			}
		case "up":
			if m.showContext && len(m.docs) > 0 {
				m.cursor = (m.cursor - 1 + len(m.docs)) % len(m.docs)
				m.refresh()
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if !m.showContext {
		var vcmd tea.Cmd
		m.viewport, vcmd = m.viewport.Update(msg)
		cmd = tea.Batch(cmd, vcmd)
	}
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.stream != nil {
		m.status = "Still answering..."
		return m, nil
	}
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.SetValue("")
	m.transcript = append(m.transcript, entry{role: domain.RoleUser, text: text})
	m.pending = ""
	m.lastQuery = text
	m.showContext = false
	m.status = "Thinking..."
	m.stream = m.conv.Stream(m.ctx, m.threadID, text)
	m.refresh()
	return m, waitFragment(m.stream)
}

func (m Model) finishTurn(msg turnDoneMsg) (tea.Model, tea.Cmd) {
	m.stream = nil
	m.pending = ""
	last := len(m.transcript) - 1

	if msg.err != nil {
		// Nothing was recorded; hand the text back for a retry.
		if last >= 0 {
			m.transcript[last].failed = true
			m.input.SetValue(m.transcript[last].text)
			m.input.CursorEnd()
		}
		m.status = "Error: " + msg.err.Error()
		m.refresh()
		return m, nil
	}
	if msg.res.Terminated {
		m.terminated = true
		if last >= 0 {
			m.transcript = m.transcript[:last]
		}
		m.status = "Goodbye."
		return m, tea.Quit
	}

	st := msg.res.State
	if st.StructuredAnswer != nil {
		m.transcript = append(m.transcript, entry{
			role:    domain.RoleAssistant,
			text:    st.StructuredAnswer.Answer,
			sources: st.StructuredAnswer.Sources,
		})
	}
	m.docs = st.RetrievedDocs
	m.cursor = 0
	m.status = fmt.Sprintf("route=%s  context=%d  messages=%d", msg.res.Route, len(m.docs), len(st.Messages))
	m.refresh()
	return m, nil
}

func (m *Model) refresh() {
	if m.showContext {
		m.viewport.SetContent(m.renderCurrentDoc())
		m.viewport.GotoTop()
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render(m.title)
	sub := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("thread: " + m.threadID)
	body := bodyBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + sub + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 && m.stream == nil {
		return "No messages yet."
	}
	var b strings.Builder
	for _, e := range m.transcript {
		switch e.role {
		case domain.RoleUser:
			label := userStyle.Render("You")
			if e.failed {
				label += failedStyle.Render(" (not sent)")
			}
			b.WriteString(label + "\n" + e.text + "\n\n")
		default:
			b.WriteString(assistantStyle.Render("Assistant") + "\n" + e.text + "\n")
			if len(e.sources) > 0 {
				b.WriteString(sourceStyle.Render("sources: "+strings.Join(e.sources, ", ")) + "\n")
			}
			b.WriteString("\n")
		}
	}
	if m.stream != nil {
		b.WriteString(assistantStyle.Render("Assistant") + "\n")
		if m.pending == "" {
			b.WriteString(sourceStyle.Render("..."))
		} else {
			b.WriteString(sourceStyle.Render(m.pending))
		}
	}
	return b.String()
}

func (m Model) renderCurrentDoc() string {
	if len(m.docs) == 0 {
		return "No retrieved context for the last turn."
	}
	d := m.docs[m.cursor]
	title := fmt.Sprintf("Context %d/%d  [source: %s]  distance=%.3f", m.cursor+1, len(m.docs), d.Source, d.Distance)
	return title + "\n\n" + highlightBestSentence(d.Text, m.lastQuery)
}

var (
	bodyBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasises the sentence sharing most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
