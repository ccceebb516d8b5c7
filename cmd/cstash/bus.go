package main

import (
	"github.com/spf13/cobra"

	"github.com/corestash/corestash/internal/event"
)

var busCmd = &cobra.Command{
	Use:     "bus",
	GroupID: GroupBus,
	Short:   "Inspect the built-in event class taxonomy",
}

var busClasses = []*event.Class{
	event.ClassEvent,
	event.ClassStoreEvent,
	event.ClassStoreMutationEvent,
	event.ClassStoreSetEvent,
	event.ClassStoreUpdateEvent,
	event.ClassStoreDeleteEvent,
	event.ClassStoreTransaction,
	event.ClassStoreTxnStartEvent,
	event.ClassStoreTxnEndEvent,
	event.ClassStoreProgressEvent,
	event.ClassStoreProgressStart,
	event.ClassStoreProgressStep,
	event.ClassStoreProgressEnd,
	event.ClassProgressEvent,
	event.ClassProgressStart,
	event.ClassProgressStep,
	event.ClassProgressEnd,
	event.ClassHeartbeatEvent,
}

var busClassesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List every registered event class",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := make([]string, len(busClasses))
		for i, c := range busClasses {
			names[i] = c.Name()
		}
		outputJSON(names)
		return nil
	},
}

var busTreeCmd = &cobra.Command{
	Use:   "tree <class>",
	Short: "Show a class's ancestry, nearest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		class := findClass(args[0])
		if class == nil {
			FatalErrorRespectJSON("unknown event class %q", args[0])
		}
		hierarchy := class.Hierarchy()
		names := make([]string, len(hierarchy))
		for i, c := range hierarchy {
			names[i] = c.Name()
		}
		outputJSON(names)
		return nil
	},
}

func findClass(name string) *event.Class {
	for _, c := range busClasses {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func init() {
	busCmd.AddCommand(busClassesCmd, busTreeCmd)
	rootCmd.AddCommand(busCmd)
}
