package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/patchtrack/patchtrack/cmd/patchtrackctl/cmd"
	"github.com/patchtrack/patchtrack/internal/common"
)

func main() {
	common.ConfigureLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
