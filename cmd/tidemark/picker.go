package main

import (
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tidemark-lab/tidemark/internal/config"
)

// pickerItem is one selectable strategy in the interactive picker.
type pickerItem struct {
	id       string
	name     string
	selected bool
}

func (i pickerItem) Title() string {
	if i.selected {
		return "[x] " + i.id
	}

	return "[ ] " + i.id
}

func (i pickerItem) Description() string { return i.name }
func (i pickerItem) FilterValue() string { return i.id }

// pickerModel is the Bubble Tea model for the strategy picker.
type pickerModel struct {
	list    list.Model
	aborted bool
}

func newPickerModel(cfgs []config.StrategyConfig) pickerModel {
	items := make([]list.Item, 0, len(cfgs))
	for _, cfg := range cfgs {
		items = append(items, pickerItem{id: cfg.ID, name: cfg.Name, selected: true})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Strategies for this run (space toggles, enter starts)"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)

	return pickerModel{list: l}
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.aborted = true

			return m, tea.Quit

		case " ":
			if item, ok := m.list.SelectedItem().(pickerItem); ok {
				item.selected = !item.selected

				return m, m.list.SetItem(m.list.Index(), item)
			}

		case "enter":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)

		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	return m, cmd
}

func (m pickerModel) View() string {
	return m.list.View() + "\n" + HelpStyle.Render("space: toggle  enter: start  q: quit")
}

// selectedIDs returns the chosen strategy IDs in display order.
func (m pickerModel) selectedIDs() []string {
	ids := make([]string, 0, len(m.list.Items()))

	for _, raw := range m.list.Items() {
		if item, ok := raw.(pickerItem); ok && item.selected {
			ids = append(ids, item.id)
		}
	}

	return ids
}

// pickStrategies shows the picker and returns the chosen strategy IDs.
// Quitting without confirming returns an empty selection.
func pickStrategies(cfgs []config.StrategyConfig) ([]string, error) {
	final, err := tea.NewProgram(newPickerModel(cfgs)).Run()
	if err != nil {
		return nil, err
	}

	m, ok := final.(pickerModel)
	if !ok || m.aborted {
		return nil, nil
	}

	return m.selectedIDs(), nil
}
