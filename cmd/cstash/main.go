// Command cstash is a thin demonstration CLI over the corestash
// library: enough store CRUD, bus introspection, lock status and
// scheduler/progress plumbing to exercise every package by hand.
// Mirrors cmd/bd's cobra tree and flag-precedence conventions, scaled
// down to what a demonstration binary needs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corestash/corestash/internal/config"
	"github.com/corestash/corestash/internal/debug"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
)

// Command group IDs for help organization.
const (
	GroupStore = "store"
	GroupBus   = "bus"
	GroupLock  = "lock"
	GroupDemo  = "demo"
)

var (
	configPath  string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	cfg         *config.Config
	bus         *event.Bus
	activeStore store.Store
)

var rootCmd = &cobra.Command{
	Use:   "cstash",
	Short: "cstash - corestash demonstration CLI",
	Long:  "A thin CLI over the corestash library's store, event bus, file lock and scheduler packages.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		bus = event.New(nil)
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupStore, Title: "Store:"},
		&cobra.Group{ID: GroupBus, Title: "Event Bus:"},
		&cobra.Group{ID: GroupLock, Title: "File Lock:"},
		&cobra.Group{ID: GroupDemo, Title: "Scheduler & Progress:"},
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
}

// ensureStore lazily builds and connects the configured store the
// first time a command needs one, caching it in activeStore for the
// rest of the process.
func ensureStore() (store.Store, error) {
	if activeStore != nil {
		return activeStore, nil
	}
	s, err := config.BuildStore(cfg.Store, bus)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(cfg.HTTP.Client()); err != nil {
		return nil, fmt.Errorf("connecting store: %w", err)
	}
	activeStore = s
	return activeStore, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
