// Command mrlite is one MapReduce-Lite worker process: parse the CLI
// surface, build a driver.Worker for the resolved role, and run it to
// completion or to the first fatal error, grounded on
// original_source/src/mapreduce_lite/mapreduce_main.cc's thin
// parse-flags/build-worker/run/exit shape and the teacher's
// examples/sum.go main().
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mrlite/mapreduce-lite/config"
	"github.com/mrlite/mapreduce-lite/driver"

	// Registers the demo job under "wordcount" so -mapper_class=wordcount
	// and -reducer_class=wordcount resolve without a separate plugin step.
	_ "github.com/mrlite/mapreduce-lite/examples/wordcount"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mrlite:", err)
		return 1
	}

	worker := driver.NewWorker(cfg)
	err = worker.Run(context.Background())
	return driver.ExitCode(err)
}
