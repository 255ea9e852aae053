package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/enmesarru/glone/internal/credentials"
	"github.com/enmesarru/glone/internal/service"
)

type selection struct {
	match       []string
	concurrency int
}

func (s *selection) addFlags(fs *pflag.FlagSet) {
	fs.StringSliceVarP(&s.match, "match", "m", nil, "only synchronize providers whose name matches one of these glob patterns")
	fs.IntVarP(&s.concurrency, "concurrency", "c", 0, "maximum number of providers synchronized in parallel (default from config, else 4)")
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var sel selection

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Synchronize every configured provider once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer a.log.Close()

			providers, err := a.root.Match(sel.match)
			if err != nil {
				return err
			}
			if len(providers) == 0 {
				a.log.Warnf("no providers to synchronize")
				return nil
			}

			observer, bar := root.progress(cmd.ErrOrStderr())

			svc := service.New().
				Configure(a.root).
				WithConcurrency(sel.concurrency).
				WithResolver(credentials.NewResolver(credentials.WithLogger(a.log))).
				WithObserver(observer).
				WithBar(bar).
				WithLogger(a.log)

			outcomes := svc.Run(cmd.Context(), providers)

			if err := printSummary(cmd.OutOrStdout(), outcomes); err != nil {
				return err
			}

			if n := failures(outcomes); n > 0 {
				return fmt.Errorf("%d of %d provider(s) failed", n, len(outcomes))
			}
			return nil
		},
	}

	sel.addFlags(cmd.Flags())

	return cmd
}
