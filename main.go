package main

import (
	"os"

	"github.com/berth-engineering/berth-ctl/cmd"
	"github.com/berth-engineering/berth-ctl/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(errors.GetExitCode(err))
	}
}
