package rollout

// Stats aggregates one batch's rollout outcomes. K is the maximum number
// of duplicate attempts observed for any single problem; PassAtK is the
// fraction of distinct problems where at least one attempt scored above
// zero.
type Stats struct {
	MeanReward    float64 `json:"avg_reward"`
	PassAtK       float64 `json:"pass_at_k"`
	K             int     `json:"k"`
	MeanToolCalls float64 `json:"avg_tool_call"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
}

// Summarize computes batch statistics over all records, terminal failures
// included (they count as reward 0).
func Summarize(records []*Record) Stats {
	stats := Stats{}
	if len(records) == 0 {
		return stats
	}

	var rewardSum float64
	var toolCallSum, toolCallCount int
	problemScores := make(map[string][]float64)

	for _, record := range records {
		rewardSum += record.Reward
		problemScores[record.Problem] = append(problemScores[record.Problem], record.Reward)
		if len(record.Trajectories) > 0 {
			stats.Completed++
			toolCallSum += record.ToolCalls()
			toolCallCount++
		} else if record.Error != "" {
			stats.Failed++
		}
	}

	stats.MeanReward = rewardSum / float64(len(records))

	solved := 0
	for _, scores := range problemScores {
		if len(scores) > stats.K {
			stats.K = len(scores)
		}
		for _, score := range scores {
			if score > 0 {
				solved++
				break
			}
		}
	}
	if len(problemScores) > 0 {
		stats.PassAtK = float64(solved) / float64(len(problemScores))
	}
	if toolCallCount > 0 {
		stats.MeanToolCalls = float64(toolCallSum) / float64(toolCallCount)
	}
	return stats
}
