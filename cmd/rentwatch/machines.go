package main

import (
	"github.com/spf13/cobra"
)

func newMachinesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "machines",
		Short: "List monitored machines and their current state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			machines, err := market.Machines(ctx, rwConfig.MachineIDs)
			if err != nil {
				return err
			}
			return printMachines(machines)
		},
	}
}
