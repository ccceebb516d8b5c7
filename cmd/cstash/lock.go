package main

import (
	"github.com/spf13/cobra"

	"github.com/corestash/corestash/internal/filelock"
)

var lockCmd = &cobra.Command{
	Use:     "lock",
	GroupID: GroupLock,
	Short:   "Inspect and exercise the cooperative file lock",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status <path>",
	Short: "Report whether a lock file is held and by whom",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		l := filelock.New(path)
		pid, hasPID := filelock.HolderPID(path)
		status := map[string]interface{}{
			"path":   path,
			"locked": l.Locked(),
			"stale":  filelock.IsStale(path),
		}
		if hasPID {
			status["holder_pid"] = pid
		}
		outputJSON(status)
		return nil
	},
}

var lockAcquireCmd = &cobra.Command{
	Use:   "acquire <path>",
	Short: "Acquire the lock, report success, then release it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l := filelock.New(args[0])
		ok, err := l.Acquire()
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		if ok {
			defer l.Release()
		}
		outputJSON(map[string]interface{}{"path": args[0], "acquired": ok})
		return nil
	},
}

func init() {
	lockCmd.AddCommand(lockStatusCmd, lockAcquireCmd)
	rootCmd.AddCommand(lockCmd)
}
