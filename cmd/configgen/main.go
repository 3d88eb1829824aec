package main

import (
	"fmt"
	"io"
	"os"

	"github.com/danmuck/eppctl/internal/client"
	"github.com/danmuck/eppctl/internal/config"
	"github.com/spf13/cobra"
)

const defaultProfilePath = "cmd/eppctl/config.toml"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var (
		output   string
		input    string
		validate bool
		force    bool
	)
	cmd := &cobra.Command{
		Use:           "configgen",
		Short:         "Write or validate an eppctl registry profile",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if validate {
				path := input
				if path == "" {
					path = defaultProfilePath
				}
				cfg, subs, err := config.LoadProfile(path, client.DefaultConfig())
				if err != nil {
					return err
				}
				if err := cfg.Session.ValidateClientTransport(); err != nil {
					return fmt.Errorf("profile %s: %w", path, err)
				}
				fmt.Fprintf(stdout, "Validated profile at %s (%s, %d defines)\n", path, cfg.Session.Address(), subs.Len())
				return nil
			}

			target := output
			if target == "" {
				target = defaultProfilePath
			}
			if err := config.WriteTemplate(target, force); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Wrote profile template to %s\n", target)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&output, "output", "", "output path for the profile template")
	f.StringVar(&input, "input", "", "profile path for validation (defaults to "+defaultProfilePath+")")
	f.BoolVar(&validate, "validate", false, "validate an existing profile")
	f.BoolVar(&force, "force", false, "overwrite an existing profile")
	return cmd
}
