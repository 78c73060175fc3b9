// Package main provides the dizo command: divergence-driven zeroth-order
// fine-tuning runs, sweeps and trajectory replay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

const version = "v0.1.0-dev"

const usage = `dizo - divergence-driven zeroth-order fine-tuning

Usage:
  dizo <command> [flags]

Commands:
  train      Train one run from a YAML config
  sweep      Train a grid of seeds and projection modes concurrently
  replay     Rebuild the final parameters of a stored run and verify them
  runs       List the runs of a trajectory store
  version    Show version

Run "dizo <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "train":
		err = runTrain(ctx, args)
	case "sweep":
		err = runSweep(ctx, args)
	case "replay":
		err = runReplay(ctx, args)
	case "runs":
		err = runRuns(ctx, args)
	case "version":
		fmt.Printf("dizo %s\n", version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error().Stack().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
