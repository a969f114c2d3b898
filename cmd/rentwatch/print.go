package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rentwatch/rentwatch/api"
	"github.com/rentwatch/rentwatch/session"
)

func printJSON(v interface{}) error {
	return jsonOut.Encode(v)
}

func printTableRow(cells ...interface{}) error {
	var cellStrings []string
	for _, cell := range cells {
		var formatted string
		if t, ok := cell.(time.Time); ok {
			if !t.IsZero() {
				formatted = t.Format(time.RFC3339)
			}
		} else {
			formatted = fmt.Sprintf("%v", cell)
		}
		cellStrings = append(cellStrings, formatted)
	}
	_, err := fmt.Fprintln(tableOut, strings.Join(cellStrings, "\t"))
	return err
}

func printMachines(machines []api.Machine) error {
	switch format {
	case formatJSON:
		return printJSON(machines)
	default:
		if err := printTableRow(
			"MACHINE",
			"GPU",
			"OCCUPANCY",
			"RUNNING",
			"RESIDENT",
			"DISK ALLOC",
			"LISTED $/GPU/HR",
			"STATUS",
		); err != nil {
			return err
		}
		for _, m := range machines {
			status := "ok"
			if m.ErrorDescription != "" {
				status = m.ErrorDescription
			} else if m.Timeout > 0 {
				status = fmt.Sprintf("timeout %ds", m.Timeout)
			}
			if err := printTableRow(
				m.MachineID,
				fmt.Sprintf("%dx %s", m.NumGPUs, m.GPUName),
				m.GPUOccupancy,
				m.CurrentRentalsRunning,
				m.CurrentRentalsResident,
				fmt.Sprintf("%.0f GB", m.AllocDiskSpace),
				fmt.Sprintf("%.4f", m.ListedGPUCost),
				status,
			); err != nil {
				return err
			}
		}
		return nil
	}
}

func printSessions(sessions []*session.Session) error {
	switch format {
	case formatJSON:
		return printJSON(sessions)
	default:
		if err := printTableRow(
			"SESSION",
			"STATUS",
			"CATEGORY",
			"GPUS",
			"GPU $/HR",
			"STORAGE GB",
			"STARTED",
			"EARNED",
		); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, s := range sessions {
			if err := printTableRow(
				s.ID,
				s.Status,
				s.Category,
				fmt.Sprintf("%v", s.GPUs),
				fmt.Sprintf("%.4f", s.CurrentGPURate()),
				fmt.Sprintf("%.1f", s.StorageGB),
				s.StartTime,
				fmt.Sprintf("$%.2f", s.EarningsAt(now).Total),
			); err != nil {
				return err
			}
		}
		return nil
	}
}

func printEarnings(rows []earningsRow) error {
	switch format {
	case formatJSON:
		return printJSON(rows)
	default:
		if err := printTableRow(
			"MACHINE",
			"SESSIONS",
			"GPU",
			"STORAGE",
			"TOTAL",
			"EST $/HR",
		); err != nil {
			return err
		}
		for _, r := range rows {
			if err := printTableRow(
				r.MachineID,
				r.Sessions,
				fmt.Sprintf("$%.2f", r.EarnedGPU),
				fmt.Sprintf("$%.2f", r.EarnedStorage),
				fmt.Sprintf("$%.2f", r.EarnedTotal),
				fmt.Sprintf("$%.2f", r.HourlyEstimate),
			); err != nil {
				return err
			}
		}
		return nil
	}
}
