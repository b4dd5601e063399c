// Command interviewer runs the voice interview agent worker.
//
// Usage:
//
//	interviewer start                  serve the worker API until interrupted
//	interviewer connect --room NAME    serve and dispatch one job to NAME
//	interviewer candidate --room NAME  replay a synthetic candidate against a worker
//
// Settings come from the environment; a local .env file is loaded first and
// never overrides variables that are already set.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "interviewer:", err)
		os.Exit(1)
	}
}
