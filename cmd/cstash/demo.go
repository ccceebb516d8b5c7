package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/progress"
	"github.com/corestash/corestash/internal/workerpool"
)

var demoSteps int

var demoCmd = &cobra.Command{
	Use:     "demo",
	GroupID: GroupDemo,
	Short:   "Run jobs through a lazy worker pool, reporting progress on the event bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := runDemo(bus, demoSteps)
		if err != nil {
			return err
		}
		outputJSON(map[string]interface{}{"steps": steps})
		return nil
	},
}

// runDemo submits steps jobs to a Lazy pool — single-slot, so jobs run
// one at a time in submission order without a separate serializer —
// reporting Start/Step/End progress on bus, and returns the step count
// once every job has run.
func runDemo(bus *event.Bus, steps int) (int, error) {
	pool := workerpool.NewLazy()
	pool.Run()
	defer pool.Shutdown(true)

	reporter := progress.New(bus, "cstash-demo", progress.NewOperationID(), "processing")

	reporter.Start(nil, steps)
	futures := make([]*workerpool.Future, 0, steps)
	for i := 1; i <= steps; i++ {
		step := i
		future, err := pool.Submit(func() (interface{}, error) {
			time.Sleep(10 * time.Millisecond)
			return fmt.Sprintf("step-%d", step), nil
		})
		if err != nil {
			_ = reporter.End("submit failed", progress.ExitError, nil)
			return 0, err
		}
		futures = append(futures, future)
		if err := reporter.Step(fmt.Sprintf("submitted step %d", step), step, nil); err != nil {
			return 0, err
		}
	}
	for _, future := range futures {
		if _, err := future.Result(0); err != nil {
			_ = reporter.End(err.Error(), progress.ExitError, nil)
			return 0, err
		}
	}
	_ = reporter.End("done", progress.ExitNormal, nil)
	return steps, nil
}

func init() {
	demoCmd.Flags().IntVar(&demoSteps, "steps", 3, "Number of jobs to submit through the lazy worker pool")
	rootCmd.AddCommand(demoCmd)
}
