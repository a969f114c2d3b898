package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rentwatch/rentwatch/metrics"
	"github.com/rentwatch/rentwatch/monitor"
	"github.com/rentwatch/rentwatch/notify"
	"github.com/rentwatch/rentwatch/registry"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Monitor machines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rwConfig.APIKey == "" {
				return fmt.Errorf("no API key configured; set %s or run 'rentwatch config set api_key <key>'", "RENTWATCH_API_KEY")
			}

			log := newLogger()

			notifier, err := notify.NewManager(log, rwConfig.Targets)
			if err != nil {
				return err
			}
			defer notifier.Close()

			promReg := prometheus.NewRegistry()
			mx := metrics.New(promReg)
			if rwConfig.MetricsAddr != "" {
				errc := metrics.Serve(rwConfig.MetricsAddr, promReg)
				go func() {
					if err := <-errc; err != nil {
						log.Error("metrics listener failed", "error", err)
					}
				}()
				log.Info("serving metrics", "addr", rwConfig.MetricsAddr)
			}

			store := registry.NewStore(rwConfig.StateDir)
			mon := monitor.New(log, rwConfig, market, store, notifier, mx)

			if rwConfig.Notify.OnStart {
				notifier.System("Rentwatch started",
					fmt.Sprintf("Monitoring %d machine(s) every %s.", len(rwConfig.MachineIDs), rwConfig.Interval()))
			}

			err = mon.Run(ctx)

			if rwConfig.Notify.OnShutdown {
				notifier.System("Rentwatch stopped", "Monitoring ended on interrupt.")
			}
			return err
		},
	}
}

// newLogger builds the run-loop logger: key-value text to stderr, debug
// level when configured, and a size-rotated mirror when log_file is set.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if rwConfig.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if rwConfig.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   rwConfig.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 5,
			Compress:   true,
		})
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
