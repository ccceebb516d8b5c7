package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/value"
)

var storeMetaFlags []string

var getCmd = &cobra.Command{
	Use:     "get <key>",
	GroupID: GroupStore,
	Short:   "Fetch a key's data and metadata",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureStore()
		if err != nil {
			return err
		}
		v, err := s.Get(args[0])
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		r, err := v.Data()
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		outputJSON(map[string]interface{}{
			"key":      args[0],
			"data":     string(data),
			"metadata": v.Metadata(),
			"size":     v.Size(),
		})
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:     "set <key> <data>",
	GroupID: GroupStore,
	Short:   "Write a key's data, optionally with metadata",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureStore()
		if err != nil {
			return err
		}
		metadata, err := parseMeta(storeMetaFlags)
		if err != nil {
			return err
		}
		now := time.Now()
		v := value.NewStringValue([]byte(args[1]), metadata, now, now)
		if err := s.Set(args[0], v, 0); err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"key": args[0], "status": "ok"})
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <key>",
	GroupID: GroupStore,
	Short:   "Remove a key",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureStore()
		if err != nil {
			return err
		}
		if err := s.Delete(args[0]); err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"key": args[0], "status": "deleted"})
		}
		return nil
	},
}

var queryMatchFlags []string

var queryCmd = &cobra.Command{
	Use:     "query",
	GroupID: GroupStore,
	Short:   "List keys and metadata matching a set of metadata constraints",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := ensureStore()
		if err != nil {
			return err
		}
		match, err := parseMeta(queryMatchFlags)
		if err != nil {
			return err
		}
		results, err := s.Query(nil, store.Match(match))
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		outputJSON(results)
		return nil
	},
}

// parseMeta turns a list of "key=value" flag values into a metadata
// map; every value is stored as a string.
func parseMeta(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		out[k] = v
	}
	return out, nil
}

func init() {
	setCmd.Flags().StringArrayVar(&storeMetaFlags, "meta", nil, "Metadata field as key=value (repeatable)")
	queryCmd.Flags().StringArrayVar(&queryMatchFlags, "match", nil, "Metadata constraint as key=value (repeatable)")

	rootCmd.AddCommand(getCmd, setCmd, deleteCmd, queryCmd)
}
