package train

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/thesevenths/agent-dev/rollout"
)

// StepStat is the persisted progress record for one training step
type StepStat struct {
	Epoch    int            `json:"epoch"`
	Batch    int            `json:"batch"`
	Rollout  *rollout.Stats `json:"rollout,omitempty"`
	Complete bool           `json:"complete"`
}

func loadStats(path string) (map[string]*StepStat, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*StepStat{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stats: %w", err)
	}
	stats := map[string]*StepStat{}
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decode stats %s: %w", path, err)
	}
	return stats, nil
}

func saveStats(path string, stats map[string]*StepStat) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

var (
	statsBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statsTitleStyle = lipgloss.NewStyle().Bold(true)
	statsLabelStyle = lipgloss.NewStyle().Faint(true).Width(14)
)

// RenderStats formats one step's rollout statistics as a bordered block
// for the training log.
func RenderStats(step int, stats rollout.Stats) string {
	lines := []string{
		statsTitleStyle.Render(fmt.Sprintf("step %d", step)),
		statsLabelStyle.Render("avg_reward") + fmt.Sprintf("%.4f", stats.MeanReward),
		statsLabelStyle.Render(fmt.Sprintf("Pass@%d", stats.K)) + fmt.Sprintf("%.4f", stats.PassAtK),
		statsLabelStyle.Render("avg_tool_call") + fmt.Sprintf("%.2f", stats.MeanToolCalls),
		statsLabelStyle.Render("tasks") + fmt.Sprintf("%d ok, %d failed", stats.Completed, stats.Failed),
	}
	return statsBoxStyle.Render(strings.Join(lines, "\n"))
}
