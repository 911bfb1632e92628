// Command termagent lets a language model drive a persistent shell, over
// HTTP or from an interactive terminal.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/termagent/agentloop"
	"github.com/martinemde/termagent/config"
	"github.com/martinemde/termagent/logging"
	"github.com/martinemde/termagent/shell"
	"github.com/martinemde/termagent/unifiedllm"
)

type rootFlags struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:           "termagent",
		Short:         "A terminal agent that runs shell commands for you",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	cmd.AddCommand(newServeCmd(&flags))
	cmd.AddCommand(newChatCmd(&flags))
	return cmd
}

// app holds the wired components shared by serve and chat.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	client *unifiedllm.Client
	shell  *shell.Controller
	agent  *agentloop.Agent
}

func newApp(ctx context.Context, flags *rootFlags, logToStderr bool) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Stderr: logToStderr,
	})
	if err != nil {
		return nil, err
	}

	client := unifiedllm.NewClientFromSettings(ctx, cfg.ProviderSettings(), logger.Named("llm"))
	if !client.HasProviders() {
		logger.Warn("no API key configured, the AI model will be unavailable",
			zap.String("provider", cfg.LLM.Provider))
	}

	shellCfg := cfg.SessionConfig()
	ctrl := shell.NewController(shellCfg, logger)
	if err := ctrl.Start(); err != nil {
		// The server still answers status requests; /api/session/restart recovers.
		logger.Error("failed to start shell session", zap.String("path", shellCfg.Path), zap.Error(err))
	}

	env := agentloop.DefaultEnvironment(shellCfg.Path)
	if shellCfg.WorkDir != "" {
		env.WorkDir = shellCfg.WorkDir
	}
	decider := agentloop.NewLLMDecider(client,
		agentloop.WithModel(cfg.LLM.Provider, cfg.Model()),
		agentloop.WithDeciderTemperature(cfg.LLM.Temperature),
		agentloop.WithSystemPrompt(agentloop.BuildSystemPrompt(env)),
		agentloop.WithDeciderLogger(logger))
	loop := agentloop.NewLoop(decider, ctrl, cfg.LoopConfig(), logger)

	return &app{
		cfg:    cfg,
		logger: logger,
		client: client,
		shell:  ctrl,
		agent:  agentloop.NewAgent(loop, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.shell.Close(); err != nil {
		a.logger.Warn("closing shell", zap.Error(err))
	}
	if err := a.client.Close(); err != nil {
		a.logger.Warn("closing llm client", zap.Error(err))
	}
	_ = a.logger.Sync()
}
