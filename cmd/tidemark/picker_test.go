package main

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/stretchr/testify/assert"

	"github.com/tidemark-lab/tidemark/internal/config"
)

func pickerConfigs() []config.StrategyConfig {
	return []config.StrategyConfig{
		{ID: "sma-fast", Name: "sma_cross"},
		{ID: "rsi-dip", Name: "rsi_reversion"},
	}
}

func TestNewPickerSelectsEverything(t *testing.T) {
	m := newPickerModel(pickerConfigs())

	assert.Equal(t, []string{"sma-fast", "rsi-dip"}, m.selectedIDs())
	assert.False(t, m.aborted)
}

func TestPickerTogglesSelection(t *testing.T) {
	m := newPickerModel(pickerConfigs())

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeySpace})
	m = next.(pickerModel)

	assert.Equal(t, []string{"rsi-dip"}, m.selectedIDs())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeySpace})
	m = next.(pickerModel)

	assert.Equal(t, []string{"sma-fast", "rsi-dip"}, m.selectedIDs())
}

func TestPickerAbortsOnQuit(t *testing.T) {
	m := newPickerModel(pickerConfigs())

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = next.(pickerModel)

	assert.True(t, m.aborted)
}

func TestPickerRendersStrategies(t *testing.T) {
	m := newPickerModel(pickerConfigs())
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))

	teatest.WaitFor(t, tm.Output(), func(bts []byte) bool {
		return bytes.Contains(bts, []byte("sma-fast")) && bytes.Contains(bts, []byte("rsi-dip"))
	}, teatest.WithDuration(2*time.Second))

	tm.Send(tea.KeyMsg{Type: tea.KeyEnter})

	final := tm.FinalModel(t, teatest.WithFinalTimeout(2*time.Second))
	picked, ok := final.(pickerModel)
	assert.True(t, ok)
	assert.False(t, picked.aborted)
	assert.Equal(t, []string{"sma-fast", "rsi-dip"}, picked.selectedIDs())
}
