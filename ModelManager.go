package main

import (
	"os"

	"github.com/shihaohou/vllm-model-manager/cmd"
	"github.com/shihaohou/vllm-model-manager/logger"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logger.ErrorLogger().Printf("vllm-manager error executing: %v", err)
		os.Exit(1)
	}
}
