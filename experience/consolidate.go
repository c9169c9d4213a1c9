package experience

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/thesevenths/agent-dev/llm"
)

// batchUpdateResult is the persisted outcome of the consolidation stage
type batchUpdateResult struct {
	Operations     []Operation `json:"operations"`
	Response       string      `json:"response"`
	RevisionPlan   []Operation `json:"revision_plan"`
	NewExperiences *Store      `json:"new_experiences"`
}

// consolidateMath merges per-query operations into a revised pool. Adds
// become provisional C-prefixed entries first, then one LLM call plans
// modifications and merges over the candidate set.
func (u *Updater) consolidateMath(ctx context.Context, experiences *Store, critiques []Critique, saveDir string) (*Store, error) {
	path := filepath.Join(saveDir, "batch_update.json")
	var cached batchUpdateResult
	if ok, err := loadCache(path, &cached); err != nil {
		return nil, err
	} else if ok && cached.NewExperiences != nil {
		u.config.Logger.Info("batch update loaded from %s", path)
		return cached.NewExperiences, nil
	}

	var allOperations []Operation
	for _, critique := range critiques {
		allOperations = append(allOperations, critique.Operations...)
	}
	u.config.Logger.Info("consolidating %d operations from %d critiques", len(allOperations), len(critiques))
	if len(allOperations) == 0 {
		return experiences.Clone(), nil
	}

	candidates := experiences.Clone()
	var toModify []Operation
	added := 0
	for _, operation := range allOperations {
		switch operation.Op {
		case OpModify:
			if candidates.Has(operation.Target()) {
				toModify = append(toModify, operation)
			}
		case OpAdd:
			candidates.Set(fmt.Sprintf("C%d", added), operation.Content)
			added++
		}
	}

	response, plan := u.planRevision(ctx, func() []llm.Message {
		return llm.Prompt(render(mathBatchUpdateTemplate, map[string]string{
			"experiences": mustJSON(candidates),
			"updates":     mustJSON(toModify),
		}))
	})
	if plan == nil {
		u.config.Logger.Warn("no parseable revision plan after %d attempts, keeping prior pool", u.config.ConsolidationRetries)
		return experiences.Clone(), nil
	}

	result := candidates.Clone()
	for _, operation := range plan {
		switch operation.Op {
		case OpModify, OpUpdate:
			if result.Has(operation.Target()) {
				result.Set(operation.Target(), operation.Content)
			} else {
				// target vanished between planning and application; keep
				// the revised content as a fresh entry
				result.Set(fmt.Sprintf("C%d", added), operation.Content)
				added++
			}
		case OpMerge:
			if len(operation.MergedFrom) < 2 {
				u.config.Logger.Warn("merge with fewer than 2 sources, skipped")
				continue
			}
			valid := true
			for _, id := range operation.MergedFrom {
				if !result.Has(id) {
					u.config.Logger.Warn("merge references unknown experience %q, skipped", id)
					valid = false
					break
				}
			}
			if !valid {
				continue
			}
			for _, id := range operation.MergedFrom {
				result.Delete(id)
			}
			result.Set(fmt.Sprintf("C%d", added), operation.Content)
			added++
		}
	}

	if err := saveCache(path, batchUpdateResult{
		Operations:     allOperations,
		Response:       response,
		RevisionPlan:   plan,
		NewExperiences: result,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// consolidateWeb reconciles the per-group ADD/UPDATE/DELETE decisions
// into one net plan and applies it. Deletes are applied after all other
// edits so a delete always wins over a competing update of the same id.
func (u *Updater) consolidateWeb(ctx context.Context, experiences *Store, grouped []Critique, saveDir string) (*Store, error) {
	path := filepath.Join(saveDir, "batch_update.json")
	var cached batchUpdateResult
	if ok, err := loadCache(path, &cached); err != nil {
		return nil, err
	} else if ok && cached.NewExperiences != nil {
		u.config.Logger.Info("batch update loaded from %s", path)
		return cached.NewExperiences, nil
	}

	var allOperations []Operation
	for _, critique := range grouped {
		allOperations = append(allOperations, critique.Operations...)
	}
	u.config.Logger.Info("consolidating %d operations from %d groups", len(allOperations), len(grouped))
	if len(allOperations) == 0 {
		return experiences.Clone(), nil
	}

	response, plan := u.planRevision(ctx, func() []llm.Message {
		return llm.SystemUser(webBatchUpdateSystemPrompt, render(webBatchUpdateUserTemplate, map[string]string{
			"experiences_and_operations": formatExperiencesAndOps(experiences, allOperations),
		}))
	})
	if plan == nil {
		u.config.Logger.Warn("no parseable revision plan after %d attempts, keeping prior pool", u.config.ConsolidationRetries)
		return experiences.Clone(), nil
	}

	result := experiences.Clone()
	nextID := experiences.Len()
	var deletes []string
	for _, operation := range plan {
		switch operation.Op {
		case OpAdd:
			if operation.Content == "" {
				continue
			}
			result.Set(fmt.Sprintf("%d", nextID), operation.Content)
			nextID++
		case OpUpdate, OpModify:
			if operation.Content == "" {
				continue
			}
			if result.Has(operation.Target()) {
				result.Set(operation.Target(), operation.Content)
			} else {
				result.Set(fmt.Sprintf("%d", nextID), operation.Content)
				nextID++
			}
		case OpDelete:
			if operation.Target() != "" {
				deletes = append(deletes, operation.Target())
			}
		}
	}
	for _, id := range deletes {
		result.Delete(id)
	}

	if err := saveCache(path, batchUpdateResult{
		Operations:     allOperations,
		Response:       response,
		RevisionPlan:   plan,
		NewExperiences: result,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// planRevision asks for a consolidation plan, retrying until a parseable
// one is produced or attempts run out.
func (u *Updater) planRevision(ctx context.Context, messages func() []llm.Message) (string, []Operation) {
	for attempt := 0; attempt < u.config.ConsolidationRetries; attempt++ {
		response, err := u.client.Chat(ctx, messages())
		if err != nil {
			u.config.Logger.Warn("revision plan attempt %d failed: %v", attempt+1, err)
			continue
		}
		plan, err := ParseOperations(response)
		if err != nil {
			u.config.Logger.Warn("revision plan attempt %d unparseable: %v", attempt+1, err)
			continue
		}
		return response, plan
	}
	return "", nil
}

// formatExperiencesAndOps pairs each existing experience with the batch
// operations addressed to it, plus a trailing section for operations that
// name no id.
func formatExperiencesAndOps(experiences *Store, operations []Operation) string {
	if len(operations) == 0 {
		return "No batch operations."
	}

	var sections []string
	for _, id := range experiences.IDs() {
		content, _ := experiences.Get(id)
		var b strings.Builder
		fmt.Fprintf(&b, "Experience %s:\nContent: %s\n", id, content)
		var related []string
		for _, operation := range operations {
			if operation.Target() == id {
				related = append(related, mustJSON(operation))
			}
		}
		if len(related) > 0 {
			b.WriteString("Related Operations:\n")
			b.WriteString(strings.Join(related, "\n"))
		} else {
			b.WriteString("No related operations.")
		}
		sections = append(sections, b.String())
	}

	var unaddressed []string
	for _, operation := range operations {
		if operation.Target() == "" {
			unaddressed = append(unaddressed, mustJSON(operation))
		}
	}
	if len(unaddressed) > 0 {
		sections = append(sections, "Operations without specific Experience ID:\n"+strings.Join(unaddressed, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

func mustJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
