// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"fmt"
	"log"
	"os"

	agent_cli "github.com/homemicai/agent/cli"
	agent_config "github.com/homemicai/agent/config"
	"github.com/homemicai/pkg/commons"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	vConfig, err := agent_config.InitConfig()
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg, err := agent_config.GetAgentConfig(vConfig)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name("homemic-node"),
		commons.Level(cfg.LogLevel),
		commons.Path(cfg.LogPath),
	)
	if err != nil {
		log.Fatalf("unable to initialize logger: %v", err)
	}
	defer logger.Sync()

	deps := &agent_cli.Dependencies{
		Config: cfg,
		Logger: logger,
	}
	return agent_cli.NewRootCmd(deps).Execute()
}
