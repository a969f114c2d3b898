package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rentwatch/rentwatch/client"
	"github.com/rentwatch/rentwatch/config"
)

// These variables are set externally by the linker.
var (
	version = "dev"
	commit  = "unknown"
)

var market *client.Client
var rwConfig *config.Config
var ctx context.Context
var quiet bool
var format string

const (
	formatJSON = "json"
)

var jsonOut *json.Encoder
var tableOut *tabwriter.Writer

func main() {
	jsonOut = json.NewEncoder(os.Stdout)
	jsonOut.SetIndent("", "    ")

	tableOut = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer tableOut.Flush()

	var cancel context.CancelFunc
	ctx, cancel = withSignal(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "rentwatch <command>",
		Short:         "Rentwatch tracks rentals and earnings for machines listed on a GPU marketplace.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("rentwatch %s (%q)", version, commit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if rwConfig, err = config.New(); err != nil {
				return err
			}

			market, err = client.NewClient(rwConfig.Address, rwConfig.APIKey)
			return err
		},
	}

	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode")
	root.PersistentFlags().StringVar(&format, "format", "", "Output format")

	root.AddCommand(newConfigCommand())
	root.AddCommand(newEarningsCommand())
	root.AddCommand(newMachinesCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newSessionsCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %+v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// Return a cancelable context which ends on signal interrupt.
//
// The first interrupt cancels the context, allowing callers to terminate
// gracefully. Upon receiving a second interrupt the process is terminated with
// exit code 130 (128 + SIGINT)
func withSignal(parent context.Context) (context.Context, context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(parent)

	// In most cases this routine will leak due to the lack of a second signal.
	// That's OK since this is expected to last for the life of the process.
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
			// Do nothing.
		}
		<-sigChan
		os.Exit(130)
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rentwatch version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("rentwatch %s (%q)\n", version, commit)
			return nil
		},
	}
}
