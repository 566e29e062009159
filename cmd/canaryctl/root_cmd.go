package main

import (
	"fmt"
	"net/http"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canarymesh/canary/pkg/api"
	transport "github.com/canarymesh/canary/pkg/http"
	"github.com/canarymesh/canary/pkg/http/client"
)

const (
	EnvVariableURL = "CANARY_URL"
)

type rootOpts struct {
	URL       string
	Namespace string
	API       api.Server
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
canaryctl drives canary releases.

Workflow:
  canaryctl deploy-canary --version v2.0 --weight 20   # Run the new version next to stable.
  canaryctl validate --samples 20                      # Probe the canary.
  canaryctl promote                                    # Make it the stable version.
  canaryctl rollback -m "perf regression"              # Or send all traffic back to stable.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "canaryctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "http://localhost:3040",
		fmt.Sprintf("base URL of the canaryd server; you can also set the environment variable %s", EnvVariableURL))
	cmd.PersistentFlags().StringVarP(&opts.Namespace, "namespace", "n", "",
		"namespace of the release; defaults to whatever the daemon manages")

	cmd.AddCommand(
		newDeployCanary(opts).Command(),
		newValidate(opts).Command(),
		newPromote(opts).Command(),
		newRollback(opts).Command(),
		newStatus(opts).Command(),
		newEvents(opts).Command(),
		newVersionCommand(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	// The version command doesn't need a server.
	if cmd.Use == "version" {
		return nil
	}
	url := os.Getenv(EnvVariableURL)
	if cmd.Flags().Changed("url") || url == "" {
		url = opts.URL
	}
	opts.API = client.New(http.DefaultClient, transport.NewAPIRouter(), url)
	return nil
}

// cause records who ran the command, for the audit trail.
func (opts *rootOpts) cause(message string) api.Cause {
	c := api.Cause{Message: message}
	if u, err := user.Current(); err == nil {
		c.User = u.Username
	}
	return c
}
