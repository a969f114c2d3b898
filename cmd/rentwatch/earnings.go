package main

import (
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newEarningsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "earnings [machine]",
		Short: "Report per-session and per-machine earnings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			regs, err := loadRegistries(args)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			var rows []earningsRow
			for id, reg := range regs {
				row := earningsRow{MachineID: id, HourlyEstimate: reg.HourlyEstimate()}
				for _, s := range reg.Active() {
					e := s.EarningsAt(now)
					row.Sessions++
					row.EarnedGPU += e.GPU
					row.EarnedStorage += e.Storage
					row.EarnedTotal += e.Total
				}
				rows = append(rows, row)
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].MachineID < rows[j].MachineID })
			return printEarnings(rows)
		},
	}
}

type earningsRow struct {
	MachineID      int64   `json:"machine_id"`
	Sessions       int     `json:"sessions"`
	EarnedGPU      float64 `json:"earned_gpu"`
	EarnedStorage  float64 `json:"earned_storage"`
	EarnedTotal    float64 `json:"earned_total"`
	HourlyEstimate float64 `json:"hourly_estimate"`
}
