// Package main is the netft command itself.
package main

import (
	"os"

	"go.viam.com/netft/cli"
	"go.viam.com/netft/logging"
)

func main() {
	if err := cli.NewApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		logging.Global().Error(err)
		os.Exit(1)
	}
}
