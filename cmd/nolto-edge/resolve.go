package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nolto/nolto-edge/pkg/domain"
	"github.com/nolto/nolto-edge/pkg/federation"
)

// resolverFlags are shared by the offline resolver commands.
type resolverFlags struct {
	canonical string
	suffixes  []string
	fallback  string
}

func (f *resolverFlags) register(cmd *cobra.Command) {
	defaults := federation.DefaultSettings()
	cmd.Flags().StringVar(&f.canonical, "canonical-domain", defaults.CanonicalDomain, "Canonical instance domain")
	cmd.Flags().StringSliceVar(&f.suffixes, "preview-suffix", defaults.PreviewSuffixes, "Host suffixes that resolve to the canonical domain")
	cmd.Flags().StringVar(&f.fallback, "fallback-hostname", defaults.FallbackHostname, "Hostname used when none is given")
}

func (f *resolverFlags) resolver() *federation.Resolver {
	return federation.NewResolver(federation.Settings{
		CanonicalDomain:  f.canonical,
		PreviewSuffixes:  f.suffixes,
		FallbackHostname: f.fallback,
	})
}

func newHandleCmd() *cobra.Command {
	var (
		flags        resolverFlags
		homeInstance string
		local        bool
		host         string
	)

	cmd := &cobra.Command{
		Use:   "handle <username>",
		Short: "Print the fediverse handle of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := flags.resolver().FormatHandle(args[0], domain.IdentityContext{
				IsLocal:      local,
				HomeInstance: homeInstance,
			}, host)
			if err != nil {
				return fmt.Errorf("format handle: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), handle)
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&homeInstance, "home-instance", "", "Home instance of a remote user")
	cmd.Flags().BoolVar(&local, "local", false, "User belongs to this deployment")
	cmd.Flags().StringVar(&host, "host", "", "Hostname the application is served from")

	return cmd
}

func newResolveCmd() *cobra.Command {
	var flags resolverFlags

	cmd := &cobra.Command{
		Use:   "resolve [hostname]",
		Short: "Print the instance domain a hostname resolves to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname := ""
			if len(args) == 1 {
				hostname = args[0]
			}
			resolved := flags.resolver().ResolveInstanceDomain(hostname)
			if resolved == "" {
				return fmt.Errorf("%w: no hostname and no fallback configured", domain.ErrInvalidInput)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), resolved)
			return err
		},
	}

	flags.register(cmd)

	return cmd
}
