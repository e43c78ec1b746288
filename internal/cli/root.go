package cli

import (
	"errors"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type options struct {
	server  string
	tenant  string
	token   string
	timeout time.Duration
	noColor bool
}

func (o *options) client() (*Client, error) {
	if o.tenant == "" {
		return nil, errors.New("--tenant (or QUEUE_TENANT) is required")
	}
	return NewClient(o.server, o.tenant, o.token, o.timeout), nil
}

// NewRootCmd builds the queuectl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "queuectl",
		Short: "Operate a queue-service instance from the terminal",
		Long: `queuectl drives the queue-service HTTP API: issue tickets, call the next
customer to a station, move tickets through their lifecycle and inspect
queues, estimates, SLA phases and audit history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("QUEUE_SERVER", "http://localhost:8080"), "queue-service base URL")
	flags.StringVar(&opts.tenant, "tenant", os.Getenv("QUEUE_TENANT"), "tenant id")
	flags.StringVar(&opts.token, "token", os.Getenv("QUEUE_TOKEN"), "API token for the tenant")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(ticketCmd(opts))
	root.AddCommand(stationCmd(opts))
	root.AddCommand(queueCmd(opts))
	root.AddCommand(estimateCmd(opts))
	root.AddCommand(eventsCmd(opts))
	return root
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
