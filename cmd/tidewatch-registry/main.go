package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/tidewatch-io/tidewatch/cmd/tidewatch-registry/app"
)

func main() {
	if err := app.NewRegistryCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
