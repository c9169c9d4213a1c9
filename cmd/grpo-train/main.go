// Command grpo-train runs training-free GRPO over a local dataset: it
// rolls out each batch with the current experience pool, distills the
// results into the next pool, and resumes from where a previous run
// stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
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
		experimentName  = flag.String("experiment_name", "", "name of the experiment run")
		datasetPath     = flag.String("dataset", "", "path to a .json or .jsonl dataset")
		datasetTruncate = flag.Int("dataset_truncate", 0, "truncate dataset to first N samples")
		givenGT         = flag.Bool("given_ground_truth", true, "whether reference answers are available")
		epochs          = flag.Int("epochs", 2, "number of training epochs")
		batchSize       = flag.Int("batchsize", 64, "batch size, must divide the dataset")
		grpoN           = flag.Int("grpo_n", 5, "rollouts per problem in a group")
		concurrency     = flag.Int("rollout_concurrency", 5, "concurrent rollout workers")
		temperature     = flag.Float64("rollout_temperature", 0.7, "sampling temperature")
		maxTokens       = flag.Int("rollout_max_tokens", 16384, "max tokens per rollout")
		taskTimeout     = flag.Duration("task_timeout", time.Hour, "timeout per rollout attempt")
		retryDelay      = flag.Duration("retry_delay", 0, "pause before re-queueing a failed rollout")
		outputDir       = flag.String("output_dir", "data", "root directory for run state")
		archivePath     = flag.String("archive", "", "optional SQLite file archiving completed rollouts")
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
	if *datasetPath == "" {
		logger.Error("--dataset is required")
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

	verifyFunc := buildVerify(d, client)

	updaterConfig := experience.DefaultUpdaterConfig(d)
	updaterConfig.MaxWorkers = *concurrency
	updaterConfig.GivenGroundTruth = *givenGT
	updaterConfig.OnlyPartialCorrect = *grpoN > 1
	updater := experience.NewUpdater(client, updaterConfig)

	config := train.DefaultConfig(d)
	config.ExperimentName = *experimentName
	config.OutputDir = *outputDir
	config.Epochs = *epochs
	config.BatchSize = *batchSize
	config.GRPOn = *grpoN
	config.Concurrency = *concurrency
	config.TaskTimeout = *taskTimeout
	config.RetryDelay = *retryDelay
	config.ArchivePath = *archivePath

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := train.NewLoop(runner, verifyFunc, updater, config)
	logger.Info("training into %s", loop.ExperimentDir())
	if err := loop.Run(ctx, rows); err != nil {
		logger.Error("training failed: %v", err)
		os.Exit(1)
	}
	logger.Info("training complete")
}

// buildRunner assembles the rollout runner and the chat client shared by
// the verifier and the experience updater. Prompt mode calls the OpenAI
// endpoint directly; agent mode goes through the langchaingo model so
// tool-using agent backends can be swapped in.
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
