package experience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/thesevenths/agent-dev/llm"
	"github.com/thesevenths/agent-dev/log"
	"github.com/thesevenths/agent-dev/rollout"
)

// Domain selects the prompt contract and pipeline shape of the updater
type Domain string

// Supported updater domains
const (
	DomainMath Domain = "math"
	DomainWeb  Domain = "web"
)

// Valid reports whether the domain is one the updater knows
func (d Domain) Valid() bool {
	return d == DomainMath || d == DomainWeb
}

// GroupFilter decides whether a group of same-problem rollouts carries a
// learning signal worth distilling.
type GroupFilter func(group []*rollout.Record) bool

// UpdaterConfig configures the experience distillation pipeline
type UpdaterConfig struct {
	Domain Domain
	// MaxWorkers bounds concurrent critique calls within a stage
	MaxWorkers int
	// MaxOperations caps how many update operations one query critique
	// may contribute.
	MaxOperations int
	// ConsolidationRetries bounds attempts to obtain a parseable
	// consolidation plan before degrading to the prior pool.
	ConsolidationRetries int
	// GivenGroundTruth tells the prompts whether reference answers exist
	GivenGroundTruth bool
	// OnlyPartialCorrect restricts distillation to groups whose mean
	// reward is strictly between 0 and 1.
	OnlyPartialCorrect bool
	// GroupFilter overrides the default informative-group predicate
	GroupFilter GroupFilter
	Logger      log.Logger
}

// DefaultUpdaterConfig returns the standard updater configuration
func DefaultUpdaterConfig(domain Domain) UpdaterConfig {
	return UpdaterConfig{
		Domain:               domain,
		MaxWorkers:           16,
		MaxOperations:        1,
		ConsolidationRetries: 3,
		GivenGroundTruth:     true,
		OnlyPartialCorrect:   true,
		Logger:               log.GetDefaultLogger(),
	}
}

// RolloutSummary is one rollout condensed into a step-by-step narrative
type RolloutSummary struct {
	Problem     string  `json:"problem"`
	GroundTruth string  `json:"groundtruth"`
	Reward      float64 `json:"reward"`
	Summary     string  `json:"trajectory_summary"`
}

// Critique is the per-problem reflection over a group of summarized
// rollouts. Math critiques carry structured operations; web critiques
// carry a free-form experiences block that a later stage turns into
// operations.
type Critique struct {
	Problem     string      `json:"problem"`
	Critique    string      `json:"critique"`
	Operations  []Operation `json:"operations,omitempty"`
	Experiences string      `json:"experiences,omitempty"`
}

// Updater distills completed rollouts into revisions of the experience
// pool. Every stage caches its output as JSON in the step directory, so
// an interrupted update resumes from the last finished stage.
type Updater struct {
	client llm.Client
	config UpdaterConfig
}

// NewUpdater creates an updater over the given chat client
func NewUpdater(client llm.Client, config UpdaterConfig) *Updater {
	if config.Logger == nil {
		config.Logger = log.GetDefaultLogger()
	}
	if config.MaxWorkers < 1 {
		config.MaxWorkers = 1
	}
	if config.MaxOperations < 1 {
		config.MaxOperations = 1
	}
	if config.ConsolidationRetries < 1 {
		config.ConsolidationRetries = 1
	}
	return &Updater{client: client, config: config}
}

// Run executes the full distillation pipeline over one step's rollouts
// and returns the next experience pool, densely renumbered as G0..G(k-1).
// The input pool is never mutated. When every consolidation attempt fails
// to produce a parseable plan the prior pool is returned unchanged.
func (u *Updater) Run(ctx context.Context, records []*rollout.Record, experiences *Store, saveDir string) (*Store, error) {
	if experiences == nil {
		experiences = NewStore()
	}

	summaries, err := u.summarizeRollouts(ctx, records, saveDir)
	if err != nil {
		return nil, err
	}
	critiques, err := u.critiqueQueries(ctx, summaries, experiences, saveDir)
	if err != nil {
		return nil, err
	}

	var updated *Store
	if u.config.Domain == DomainWeb {
		grouped, err := u.groupUpdate(ctx, experiences, critiques, saveDir)
		if err != nil {
			return nil, err
		}
		updated, err = u.consolidateWeb(ctx, experiences, grouped, saveDir)
		if err != nil {
			return nil, err
		}
	} else {
		updated, err = u.consolidateMath(ctx, experiences, critiques, saveDir)
		if err != nil {
			return nil, err
		}
	}
	return updated.Renumber("G"), nil
}

// informative reports whether a same-problem group should contribute to
// the update. Groups that are all-correct or all-wrong carry no contrast
// to learn from.
func (u *Updater) informative(group []*rollout.Record) bool {
	if u.config.GroupFilter != nil {
		return u.config.GroupFilter(group)
	}
	if !u.config.GivenGroundTruth || !u.config.OnlyPartialCorrect {
		return true
	}
	var total float64
	for _, record := range group {
		total += record.Reward
	}
	mean := total / float64(len(group))
	return mean > 0 && mean < 1
}

func (u *Updater) summarizeRollouts(ctx context.Context, records []*rollout.Record, saveDir string) (map[string][]RolloutSummary, error) {
	path := filepath.Join(saveDir, "single_rollout_summary.json")
	cached := map[string][]RolloutSummary{}
	if ok, err := loadCache(path, &cached); err != nil {
		return nil, err
	} else if ok && len(cached) > 0 {
		u.config.Logger.Info("rollout summaries loaded from %s", path)
		return cached, nil
	}

	groups, order := groupByProblem(records)
	var toProcess []*rollout.Record
	for _, problem := range order {
		if group := groups[problem]; u.informative(group) {
			toProcess = append(toProcess, group...)
		}
	}
	u.config.Logger.Info("summarizing %d rollouts from %d informative groups", len(toProcess), len(order))

	results := make(map[string][]RolloutSummary)
	var mu sync.Mutex
	u.forEach(ctx, len(toProcess), func(i int) {
		record := toProcess[i]
		summary, err := u.summarizeOne(ctx, record)
		if err != nil {
			u.config.Logger.Warn("rollout summary failed for run %d: %v", record.RunID, err)
			return
		}
		mu.Lock()
		results[record.Problem] = append(results[record.Problem], RolloutSummary{
			Problem:     record.Problem,
			GroundTruth: record.GroundTruth,
			Reward:      record.Reward,
			Summary:     summary,
		})
		mu.Unlock()
	})

	if err := saveCache(path, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (u *Updater) summarizeOne(ctx context.Context, record *rollout.Record) (string, error) {
	trajectory := trajectoryText(record)

	var messages []llm.Message
	if u.config.Domain == DomainWeb {
		answer := record.GroundTruth
		if !u.config.GivenGroundTruth {
			answer = "[REDACTED]"
		}
		messages = llm.SystemUser(webRolloutSummarySystemPrompt, render(webRolloutSummaryUserTemplate, map[string]string{
			"task":       record.Problem,
			"answer":     answer,
			"trajectory": trajectory,
		}))
	} else if u.config.GivenGroundTruth {
		grade := "This trajectory delivers **wrong** answer"
		if record.Reward > 0 {
			grade = "This trajectory delivers **correct** answer"
		}
		messages = llm.Prompt(render(mathRolloutSummaryTemplate, map[string]string{
			"trajectory": trajectory,
			"grade":      grade,
			"answer":     record.GroundTruth,
		}))
	} else {
		messages = llm.Prompt(render(mathRolloutSummaryNoGTTemplate, map[string]string{
			"trajectory": trajectory,
		}))
	}
	return u.client.Chat(ctx, messages)
}

func (u *Updater) critiqueQueries(ctx context.Context, summaries map[string][]RolloutSummary, experiences *Store, saveDir string) ([]Critique, error) {
	path := filepath.Join(saveDir, "single_query_critique.json")
	var cached []Critique
	if ok, err := loadCache(path, &cached); err != nil {
		return nil, err
	} else if ok && len(cached) > 0 {
		u.config.Logger.Info("query critiques loaded from %s", path)
		return cached, nil
	}

	problems := make([]string, 0, len(summaries))
	for problem := range summaries {
		problems = append(problems, problem)
	}
	sort.Strings(problems)

	var results []Critique
	var mu sync.Mutex
	u.forEach(ctx, len(problems), func(i int) {
		group := summaries[problems[i]]
		critique, err := u.critiqueOne(ctx, group, experiences)
		if err != nil {
			u.config.Logger.Warn("query critique failed for %q: %v", truncate(problems[i], 60), err)
			return
		}
		mu.Lock()
		results = append(results, critique)
		mu.Unlock()
	})
	sort.Slice(results, func(i, j int) bool { return results[i].Problem < results[j].Problem })

	if err := saveCache(path, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (u *Updater) critiqueOne(ctx context.Context, group []RolloutSummary, experiences *Store) (Critique, error) {
	problem := group[0].Problem
	answer := group[0].GroundTruth

	if u.config.Domain == DomainWeb {
		if !u.config.GivenGroundTruth {
			answer = "[REDACTED]"
		}
		response, err := u.client.Chat(ctx, llm.SystemUser(webCritiqueSystemPrompt, render(webCritiqueUserTemplate, map[string]string{
			"question": problem,
			"answer":   answer,
			"attempts": formatAttempts(group, "Attempt"),
		})))
		if err != nil {
			return Critique{}, err
		}
		return Critique{
			Problem:     problem,
			Critique:    response,
			Experiences: ExtractTagged(response, "Experiences"),
		}, nil
	}

	template := mathCritiqueTemplate
	if !u.config.GivenGroundTruth {
		template = mathCritiqueNoGTTemplate
	}
	response, err := u.client.Chat(ctx, llm.Prompt(render(template, map[string]string{
		"max_operations": fmt.Sprintf("%d", u.config.MaxOperations),
		"problem":        problem,
		"trajectories":   formatAttempts(group, "Trajectory"),
		"answer":         answer,
		"experiences":    experiences.Format(),
	})))
	if err != nil {
		return Critique{}, err
	}
	operations, err := ParseOperations(response)
	if err != nil {
		return Critique{}, err
	}
	if len(operations) > u.config.MaxOperations {
		operations = operations[:u.config.MaxOperations]
	}
	return Critique{Problem: problem, Critique: response, Operations: operations}, nil
}

// groupUpdate turns each web critique's free-form experiences block into
// structured operations against the current pool.
func (u *Updater) groupUpdate(ctx context.Context, experiences *Store, critiques []Critique, saveDir string) ([]Critique, error) {
	path := filepath.Join(saveDir, "group_update.json")
	var cached []Critique
	if ok, err := loadCache(path, &cached); err != nil {
		return nil, err
	} else if ok && len(cached) > 0 {
		u.config.Logger.Info("group decisions loaded from %s", path)
		return cached, nil
	}

	var results []Critique
	var mu sync.Mutex
	u.forEach(ctx, len(critiques), func(i int) {
		critique := critiques[i]
		if critique.Experiences == "" {
			return
		}
		response, err := u.client.Chat(ctx, llm.SystemUser(webGroupUpdateSystemPrompt, render(webGroupUpdateUserTemplate, map[string]string{
			"existing_experiences": experiences.Format(),
			"new_experiences":      critique.Experiences,
		})))
		if err != nil {
			u.config.Logger.Warn("group update failed for %q: %v", truncate(critique.Problem, 60), err)
			return
		}
		operations, err := ParseOperations(response)
		if err != nil {
			u.config.Logger.Warn("group update unparseable for %q: %v", truncate(critique.Problem, 60), err)
			return
		}
		critique.Operations = operations
		mu.Lock()
		results = append(results, critique)
		mu.Unlock()
	})
	sort.Slice(results, func(i, j int) bool { return results[i].Problem < results[j].Problem })

	if err := saveCache(path, results); err != nil {
		return nil, err
	}
	return results, nil
}

// forEach runs fn over [0,n) with at most MaxWorkers in flight
func (u *Updater) forEach(ctx context.Context, n int, fn func(i int)) {
	sem := make(chan struct{}, u.config.MaxWorkers)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func groupByProblem(records []*rollout.Record) (map[string][]*rollout.Record, []string) {
	groups := make(map[string][]*rollout.Record)
	var order []string
	for _, record := range records {
		if len(record.Trajectories) == 0 {
			continue
		}
		if _, seen := groups[record.Problem]; !seen {
			order = append(order, record.Problem)
		}
		groups[record.Problem] = append(groups[record.Problem], record)
	}
	return groups, order
}

func formatAttempts(group []RolloutSummary, label string) string {
	parts := make([]string, len(group))
	for i, each := range group {
		verdict := "wrong"
		if each.Reward > 0 {
			verdict = "correct"
		}
		parts[i] = fmt.Sprintf("%s %d (Answer %s):\n%s", label, i+1, verdict, each.Summary)
	}
	return strings.Join(parts, "\n\n")
}

func trajectoryText(record *rollout.Record) string {
	if len(record.Trajectories) == 0 {
		return ""
	}
	data, err := json.MarshalIndent(record.Trajectories[0].Trajectory, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", record.Trajectories[0].Trajectory)
	}
	return string(data)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func loadCache(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode stage cache %s: %w", path, err)
	}
	return true, nil
}

func saveCache(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stage cache %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
