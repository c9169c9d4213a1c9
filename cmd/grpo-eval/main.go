// Command grpo-eval rolls out a dataset once, optionally with a frozen
// experience pool injected into every prompt, and reports Pass@K and
// mean reward.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kataras/golog"
	langopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/thesevenths/agent-dev/dataset"
	"github.com/thesevenths/agent-dev/experience"
	"github.com/thesevenths/agent-dev/llm"
	"github.com/thesevenths/agent-dev/log"
	"github.com/thesevenths/agent-dev/rollout"
	"github.com/thesevenths/agent-dev/train"
	"github.com/thesevenths/agent-dev/verify"
)

func main() {
	var (
		mode            = flag.String("mode", "prompt", "inference mode: prompt or agent")
		domain          = flag.String("domain", "", "task domain: math or web")
		experimentName  = flag.String("experiment_name", "", "name of the evaluation run")
		datasetPath     = flag.String("dataset", "", "path to a .json or .jsonl dataset")
		datasetTruncate = flag.Int("dataset_truncate", 0, "truncate dataset to first N samples")
		experienceFile  = flag.String("experience_file", "", "optional experiences.json to inject")
		passK           = flag.Int("pass_k", 1, "duplicate the dataset K times for Pass@K")
		concurrency     = flag.Int("rollout_concurrency", 5, "concurrent rollout workers")
		temperature     = flag.Float64("rollout_temperature", 0.3, "sampling temperature")
		maxTokens       = flag.Int("rollout_max_tokens", 16384, "max tokens per rollout")
		taskTimeout     = flag.Duration("task_timeout", time.Hour, "timeout per rollout attempt")
		outputDir       = flag.String("output_dir", "data", "root directory for run state")
		logLevel        = flag.String("log_level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	logger := log.NewGologLogger(golog.New())
	logger.SetLevel(log.ParseLevel(*logLevel))
	log.SetDefaultLogger(logger)

	d := experience.Domain(*domain)
	if !d.Valid() {
		logger.Error("unsupported domain %q, want math or web", *domain)
		os.Exit(1)
	}
	if *mode != "prompt" && *mode != "agent" {
		logger.Error("unsupported inference mode %q, want prompt or agent", *mode)
		os.Exit(1)
	}
	if *datasetPath == "" || *experimentName == "" {
		logger.Error("--dataset and --experiment_name are required")
		os.Exit(1)
	}

	runner, client, err := buildRunner(*mode, float32(*temperature), *maxTokens)
	if err != nil {
		logger.Error("set up runner: %v", err)
		os.Exit(1)
	}

	rows, err := dataset.Load(*datasetPath)
	if err != nil {
		logger.Error("load dataset: %v", err)
		os.Exit(1)
	}
	logger.Info("loaded %d records from %s", len(rows), *datasetPath)
	if *datasetTruncate > 0 {
		rows = dataset.Truncate(rows, *datasetTruncate)
		logger.Info("truncated to %d records", len(rows))
	}

	var experiences *experience.Store
	if *experienceFile != "" {
		data, err := os.ReadFile(*experienceFile)
		if err != nil {
			logger.Error("read experience file: %v", err)
			os.Exit(1)
		}
		experiences = experience.NewStore()
		if err := json.Unmarshal(data, experiences); err != nil {
			logger.Error("decode experience file: %v", err)
			os.Exit(1)
		}
		logger.Info("injecting %d experiences from %s", experiences.Len(), *experienceFile)
	}

	config := train.DefaultEvalConfig(d)
	config.PassK = *passK
	config.Concurrency = *concurrency
	config.TaskTimeout = *taskTimeout

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rolloutPath := filepath.Join(*outputDir, string(d), "eval", *experimentName+".jsonl")
	stats, err := train.Evaluate(ctx, runner, buildVerify(d, client), rows, experiences, rolloutPath, config)
	if err != nil {
		logger.Error("evaluation failed: %v", err)
		os.Exit(1)
	}
	fmt.Println(train.RenderStats(0, stats))
}

// buildRunner mirrors the trainer's construction: prompt mode is one
// chat call per problem, agent mode goes through the langchaingo model.
func buildRunner(mode string, temperature float32, maxTokens int) (rollout.Runner, llm.Client, error) {
	config := llm.DefaultOpenAIConfig()
	config.BaseURL = os.Getenv("OPENAI_BASE_URL")
	config.APIKey = os.Getenv("OPENAI_API_KEY")
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.Model = model
	}
	client := llm.NewOpenAIClient(config)

	switch mode {
	case "prompt":
		return rollout.NewChatRunner(client, temperature, maxTokens), client, nil
	case "agent":
		opts := []langopenai.Option{langopenai.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, langopenai.WithBaseURL(config.BaseURL))
		}
		if config.APIKey != "" {
			opts = append(opts, langopenai.WithToken(config.APIKey))
		}
		model, err := langopenai.New(opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("build agent model: %w", err)
		}
		adapter := llm.NewModelAdapter(model)
		return rollout.NewChatRunner(adapter, temperature, maxTokens), client, nil
	}
	return nil, nil, fmt.Errorf("unsupported mode %q", mode)
}

func buildVerify(domain experience.Domain, client llm.Client) rollout.VerifyFunc {
	if domain == experience.DomainWeb {
		return verify.NewWebJudge(client, log.GetDefaultLogger()).Verify
	}
	return verify.Math
}
