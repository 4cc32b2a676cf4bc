package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tatianab/jianghu/internal/engine"
	"github.com/tatianab/jianghu/internal/export"
	"github.com/tatianab/jianghu/internal/gameerr"
	"github.com/tatianab/jianghu/internal/models"
	"github.com/tatianab/jianghu/internal/storage"
)

type sessionState int

const (
	stateMenu sessionState = iota
	stateName
	stateGender
	stateLoading
	statePlaying
	stateError
)

const (
	maxToasts   = 3
	toastExpiry = 4 * time.Second
)

// Settings are the parts of the configuration the UI needs.
type Settings struct {
	SaveDir     string
	PDFFontPath string
}

type model struct {
	state     sessionState
	engine    *engine.Engine
	store     storage.Store
	notes     <-chan models.Notification
	settings  Settings
	session   *models.GameSession
	saves     []storage.Summary
	sheet     models.CharacterSheet
	textInput textinput.Model
	viewport  viewport.Model
	err       error
	status    string
	toasts    []models.Notification
	gameOver  bool
	width     int
	height    int
}

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EEEEEE")).
			Background(lipgloss.Color("#5F5F87")).
			Bold(true).
			PaddingLeft(1)

	gameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87AF87")).
			Italic(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))

	optionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD787"))

	stateStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			PaddingLeft(2).
			Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500")).
			Bold(true).
			Underline(true)

	toastStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FFA500")).
			Padding(0, 1)
)

var toastIcons = map[models.NotificationType]string{
	models.NotifyItem:        "📦",
	models.NotifySkill:       "📜",
	models.NotifyTitle:       "🏷",
	models.NotifyAchievement: "🏆",
}

func NewModel(eng *engine.Engine, store storage.Store, notes <-chan models.Notification, settings Settings) model {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 40

	return model{
		state:     stateMenu,
		engine:    eng,
		store:     store,
		notes:     notes,
		settings:  settings,
		textInput: ti,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listSaves(), m.waitForNote())
}

type savesListedMsg struct {
	saves []storage.Summary
	err   error
}

type sessionLoadedMsg struct {
	session *models.GameSession
	err     error
}

type turnProcessedMsg struct {
	outcome *engine.Outcome
	err     error
}

type noteMsg models.Notification

type toastExpiredMsg struct{}

type statusMsg string

type errMsg struct {
	err error
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch m.state {
		case stateMenu:
			return m.updateMenu(msg)
		case stateError:
			if msg.Type == tea.KeyEnter {
				m.err = nil
				m.toName()
			}
			return m, nil
		case stateName, stateGender, statePlaying:
			if msg.Type == tea.KeyEnter {
				return m.submit()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = m.logWidth()
		m.viewport.Height = m.logHeight()
		if m.state == statePlaying {
			m.refresh()
		}

	case savesListedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("讀取存檔失敗：%v", msg.err)
		}
		m.saves = msg.saves
		if len(m.saves) == 0 && m.state == stateMenu {
			m.toName()
		}
		return m, nil

	case sessionLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.state = stateError
			return m, nil
		}
		m.engine.Load(msg.session)
		m.gameOver = msg.session.State.Player.HP <= 0
		m.startPlaying()
		return m, nil

	case turnProcessedMsg:
		return m.turnDone(msg)

	case noteMsg:
		m.toasts = append(m.toasts, models.Notification(msg))
		if len(m.toasts) > maxToasts {
			m.toasts = m.toasts[len(m.toasts)-maxToasts:]
		}
		expire := tea.Tick(toastExpiry, func(time.Time) tea.Msg { return toastExpiredMsg{} })
		return m, tea.Batch(m.waitForNote(), expire)

	case toastExpiredMsg:
		if len(m.toasts) > 0 {
			m.toasts = m.toasts[1:]
		}
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case errMsg:
		m.status = errorStyle.Render(msg.err.Error())
		return m, nil
	}

	if m.state == stateName || m.state == stateGender || m.state == statePlaying {
		m.textInput, cmd = m.textInput.Update(msg)
		if m.state == statePlaying && scrolls(msg) {
			var vpCmd tea.Cmd
			m.viewport, vpCmd = m.viewport.Update(msg)
			cmd = tea.Batch(cmd, vpCmd)
		}
		return m, cmd
	}

	return m, nil
}

// scrolls reports whether msg should reach the log viewport. Letter keys
// stay with the text input.
func scrolls(msg tea.Msg) bool {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return msg.Type == tea.KeyPgUp || msg.Type == tea.KeyPgDown
	case tea.MouseMsg:
		return true
	}
	return false
}

func (m model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "n" {
		m.toName()
		return m, nil
	}
	if i, err := strconv.Atoi(key); err == nil && i >= 1 && i <= len(m.saves) {
		m.state = stateLoading
		return m, m.loadSave(m.saves[i-1].ID)
	}
	return m, nil
}

func (m *model) toName() {
	m.state = stateName
	m.sheet = models.CharacterSheet{}
	m.session = nil
	m.gameOver = false
	m.status = ""
	m.textInput.Reset()
	m.textInput.Placeholder = "你的名字……"
}

func (m model) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textInput.Value())
	m.textInput.Reset()

	switch m.state {
	case stateName:
		if input == "" {
			return m, nil
		}
		m.sheet.Name = input
		m.state = stateGender
		m.textInput.Placeholder = "性別（男／女）"
		return m, nil

	case stateGender:
		if input == "" {
			input = "男"
		}
		m.sheet.Gender = input
		m.state = stateLoading
		return m, m.startGame(m.sheet)
	}

	if input == "" {
		return m, nil
	}
	if strings.HasPrefix(input, "/") {
		return m.command(input)
	}
	if m.gameOver {
		m.status = helpStyle.Render("你已身死，輸入 /restart 重新開始。")
		return m, nil
	}
	if i, err := strconv.Atoi(input); err == nil && i >= 1 && i <= 4 {
		return m.play(func(ctx context.Context) (*engine.Outcome, error) {
			return m.engine.SelectOption(ctx, i-1)
		})
	}
	return m.play(func(ctx context.Context) (*engine.Outcome, error) {
		return m.engine.Submit(ctx, input)
	})
}

func (m model) command(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	args := fields[1:]

	switch fields[0] {
	case "/quit":
		return m, tea.Quit

	case "/restart":
		m.engine.Restart()
		m.toName()
		return m, nil

	case "/load":
		m.state = stateMenu
		return m, m.listSaves()

	case "/retry":
		return m.play(m.engine.Retry)

	case "/save":
		return m, m.save()

	case "/export":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		return m, m.exportPDF(path)

	case "/equip":
		m.equip(args)
		return m, nil
	}

	m.status = helpStyle.Render("未知指令：" + fields[0])
	return m, nil
}

// equip handles "/equip title <name>" and "/equip <weapon|armor|accessory> [item]".
func (m *model) equip(args []string) {
	if len(args) == 0 {
		m.status = helpStyle.Render("用法：/equip title 稱號 或 /equip weapon|armor|accessory 物品")
		return
	}
	name := strings.Join(args[1:], " ")
	var (
		changed bool
		err     error
	)
	switch args[0] {
	case "title":
		changed, err = m.engine.EquipTitle(name)
	case string(models.SlotWeapon), string(models.SlotArmor), string(models.SlotAccessory):
		changed, err = m.engine.EquipItem(models.Slot(args[0]), name)
	default:
		m.status = helpStyle.Render("未知欄位：" + args[0])
		return
	}
	switch {
	case err != nil:
		m.status = errorStyle.Render(err.Error())
	case !changed:
		m.status = helpStyle.Render("無法裝備：" + name)
	default:
		m.status = ""
		m.refresh()
	}
}

func (m model) play(fn func(context.Context) (*engine.Outcome, error)) (tea.Model, tea.Cmd) {
	if m.engine.Processing() {
		return m, nil
	}
	m.status = helpStyle.Render("說書人正在構思……")
	cmd := func() tea.Msg {
		outcome, err := fn(context.Background())
		return turnProcessedMsg{outcome, err}
	}
	return m, cmd
}

func (m model) turnDone(msg turnProcessedMsg) (tea.Model, tea.Cmd) {
	if m.state == stateLoading {
		if msg.err != nil {
			m.err = msg.err
			m.state = stateError
			return m, nil
		}
		m.startPlaying()
		return m, nil
	}

	switch {
	case errors.Is(msg.err, gameerr.ErrStale), errors.Is(msg.err, gameerr.ErrBusy):
		m.status = ""
	case msg.err != nil:
		m.status = errorStyle.Render(fmt.Sprintf("回合失敗（%s）：%v。輸入 /retry 重試。", gameerr.KindOf(msg.err), msg.err))
	default:
		m.status = ""
		if msg.outcome.GameOver {
			m.gameOver = true
			m.status = errorStyle.Render("你倒在了江湖路上。輸入 /restart 重新開始，或 /export 留下你的故事。")
		}
	}
	m.refresh()
	return m, nil
}

func (m *model) startPlaying() {
	m.state = statePlaying
	if m.viewport.Width == 0 {
		m.viewport = viewport.New(m.logWidth(), m.logHeight())
	}
	m.textInput.Placeholder = "你要做什麼？輸入 1-4 選擇，或自行描述行動"
	m.textInput.Reset()
	m.refresh()
}

// refresh pulls the live session from the engine and redraws the log.
func (m *model) refresh() {
	m.session = m.engine.Snapshot()
	m.viewport.SetContent(m.renderLog())
	m.viewport.GotoBottom()
}

func (m model) logWidth() int {
	return int(float64(m.width) * 0.70)
}

func (m model) logHeight() int {
	return max(m.height-10, 5)
}

func (m model) View() string {
	var s string

	switch m.state {
	case stateMenu:
		s = m.renderMenu()

	case stateName:
		s = fmt.Sprintf("踏入江湖\n\n%s\n\n%s", "少俠尊姓大名？", m.textInput.View())

	case stateGender:
		s = fmt.Sprintf("踏入江湖\n\n%s，%s\n\n%s", m.sheet.Name, "你是男是女？", m.textInput.View())

	case stateLoading:
		s = "\n  說書人正在鋪陳你的江湖……\n"

	case statePlaying:
		mainView := lipgloss.JoinHorizontal(lipgloss.Top,
			m.viewport.View(),
			m.renderState(),
		)
		parts := []string{mainView, m.renderOptions()}
		if len(m.toasts) > 0 {
			parts = append(parts, m.renderToasts())
		}
		if m.status != "" {
			parts = append(parts, m.status)
		}
		parts = append(parts,
			"\n"+m.textInput.View(),
			helpStyle.Render("指令：/retry /save /load /export [路徑] /equip /restart /quit"),
		)
		s = lipgloss.JoinVertical(lipgloss.Left, parts...)

	case stateError:
		s = fmt.Sprintf("\n  錯誤：%v\n\n按 Enter 重新開始，Esc 離開。", m.err)
	}

	return "\n" + s + "\n"
}

func (m model) renderMenu() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("江湖") + "\n\n")
	for i, sv := range m.saves {
		fmt.Fprintf(&b, "%d. %s %s  %s  第%d回  %s\n", i+1, sv.Name, sv.Title, sv.Location, sv.Turn, sv.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	b.WriteString("\n" + helpStyle.Render("按數字讀取存檔，按 n 開始新遊戲。"))
	if m.status != "" {
		b.WriteString("\n" + m.status)
	}
	return b.String()
}

func (m model) renderLog() string {
	if m.session == nil {
		return ""
	}
	width := m.logWidth()
	var b strings.Builder
	for _, entry := range m.session.Narrative {
		switch entry.Role {
		case models.RoleUser:
			b.WriteString(userStyle.Width(width).Render("> " + entry.Text))
		case models.RoleAssistant:
			b.WriteString(gameStyle.Width(width).Render(entry.Text))
		default:
			b.WriteString(systemStyle.Width(width).Render("【" + entry.Text + "】"))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m model) renderOptions() string {
	if m.session == nil || len(m.session.Options) == 0 {
		return ""
	}
	var lines []string
	for i, o := range m.session.Options {
		lines = append(lines, optionStyle.Render(fmt.Sprintf("%d. %s", i+1, o.Label)))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderToasts() string {
	var boxes []string
	for _, n := range m.toasts {
		icon := n.Icon
		if icon == "" {
			icon = toastIcons[n.Type]
		}
		text := icon + " " + n.Title
		if n.Description != "" {
			text += "\n" + n.Description
		}
		boxes = append(boxes, toastStyle.Render(text))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func (m model) renderState() string {
	if m.session == nil {
		return ""
	}

	state := m.session.State
	p := state.Player

	var b strings.Builder
	b.WriteString(titleStyle.Render("人物") + "\n")
	fmt.Fprintf(&b, "%s「%s」\n", p.Name, p.Title)
	fmt.Fprintf(&b, "氣血 %d/%d\n內力 %d/%d\n飽食 %d/%d\n銀兩 %d\n\n", p.HP, p.MaxHP, p.Qi, p.MaxQi, p.Hunger, p.MaxHunger, p.Money)

	b.WriteString(titleStyle.Render("屬性") + "\n")
	for _, a := range models.Attributes {
		fmt.Fprintf(&b, "%s %d  ", models.AttributeNames[a], p.Attributes[a])
	}
	b.WriteString("\n\n")

	b.WriteString(titleStyle.Render("所在") + "\n")
	fmt.Fprintf(&b, "%s  %s\n\n", state.World.Location, state.World.Weather)

	b.WriteString(titleStyle.Render("主線") + "\n")
	fmt.Fprintf(&b, "%s（%d%%）\n\n", state.Quest.MainQuest, state.Quest.PlotProgress)

	b.WriteString(titleStyle.Render("行囊") + "\n")
	if len(p.Inventory) == 0 {
		b.WriteString("（空）\n")
	}
	for _, item := range p.Inventory {
		fmt.Fprintf(&b, "- %s×%d\n", item.Name, item.Count)
	}

	stateWidth := int(float64(m.width) * 0.27)
	return stateStyle.Width(stateWidth).Height(m.viewport.Height).Render(b.String())
}

func (m model) waitForNote() tea.Cmd {
	if m.notes == nil {
		return nil
	}
	return func() tea.Msg {
		return noteMsg(<-m.notes)
	}
}

func (m model) listSaves() tea.Cmd {
	return func() tea.Msg {
		saves, err := m.store.List(context.Background())
		return savesListedMsg{saves, err}
	}
}

func (m model) loadSave(id string) tea.Cmd {
	return func() tea.Msg {
		s, err := m.store.Load(context.Background(), id)
		return sessionLoadedMsg{s, err}
	}
}

func (m model) startGame(sheet models.CharacterSheet) tea.Cmd {
	return func() tea.Msg {
		outcome, err := m.engine.Start(context.Background(), sheet)
		return turnProcessedMsg{outcome, err}
	}
}

func (m model) save() tea.Cmd {
	s := m.engine.Snapshot()
	return func() tea.Msg {
		if s == nil {
			return errMsg{gameerr.ErrNoSession}
		}
		if err := m.store.Save(context.Background(), s); err != nil {
			return errMsg{err}
		}
		return statusMsg(helpStyle.Render("已存檔。"))
	}
}

func (m model) exportPDF(path string) tea.Cmd {
	s := m.engine.Snapshot()
	return func() tea.Msg {
		if s == nil {
			return errMsg{gameerr.ErrNoSession}
		}
		if path == "" {
			path = filepath.Join(m.settings.SaveDir, s.ID+".pdf")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return errMsg{err}
		}
		f, err := os.Create(path)
		if err != nil {
			return errMsg{err}
		}
		defer f.Close()
		if err := export.WritePDF(f, s, m.settings.PDFFontPath); err != nil {
			return errMsg{err}
		}
		return statusMsg(helpStyle.Render("故事已匯出至 " + path))
	}
}

func Run(eng *engine.Engine, store storage.Store, notes <-chan models.Notification, settings Settings) error {
	p := tea.NewProgram(NewModel(eng, store, notes, settings), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
