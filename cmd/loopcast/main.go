package main

import (
	"loopcast/cmd/cmd"
	"loopcast/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}
