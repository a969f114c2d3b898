package main

import (
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rentwatch/rentwatch/registry"
	"github.com/rentwatch/rentwatch/session"
)

func newSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions [machine]",
		Short: "List tracked rental sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			regs, err := loadRegistries(args)
			if err != nil {
				return err
			}

			var sessions []*session.Session
			for _, reg := range regs {
				sessions = append(sessions, reg.Active()...)
			}
			sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
			return printSessions(sessions)
		},
	}
}

// loadRegistries reads persisted state, optionally filtered to the machine
// named by the first argument.
func loadRegistries(args []string) (map[int64]*registry.Registry, error) {
	store := registry.NewStore(rwConfig.StateDir)
	regs, err := store.LoadRegistries()
	if err != nil {
		return nil, err
	}

	if len(args) == 0 {
		return regs, nil
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]*registry.Registry)
	if reg, ok := regs[id]; ok {
		out[id] = reg
	}
	return out, nil
}
