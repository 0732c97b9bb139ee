package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vbonduro/manholedex/internal/domain"
	"github.com/vbonduro/manholedex/internal/features"
)

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.catalog.Settings(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, s, func(p *printer) {
				p.row("Compression", string(s.CompressionTier))
				p.row("Premium", fmt.Sprint(s.IsPremium()))
				p.row("Last backup", formatDate(s.LastBackupAt))
				p.flush()
			})
		},
	}

	tier := &cobra.Command{
		Use:       "tier <high|standard|low>",
		Short:     "Set the compression tier for new photos",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.TierHigh), string(domain.TierStandard), string(domain.TierLow)},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.catalog.SetCompressionTier(cmd.Context(), domain.CompressionTier(strings.ToLower(args[0])))
			if err != nil {
				return err
			}
			return a.print(cmd, s, func(p *printer) {
				p.line("Compression tier set to %s", s.CompressionTier)
			})
		},
	}

	cmd.AddCommand(show, tier)
	return cmd
}

func newPremiumCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "premium",
		Short: "Manage premium access",
	}
	activate := &cobra.Command{
		Use:   "activate <license-key>",
		Short: "Unlock premium with a license key or friend code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, lic, err := a.catalog.ActivatePremium(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd, lic, func(p *printer) {
				p.line("Premium activated: %s", lic.Message)
			})
		},
	}
	cmd.AddCommand(activate)
	return cmd
}

func newFeaturesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Inspect and override feature gates",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show whether each feature is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := a.catalog.FeatureEnv(ctx)
			if err != nil {
				return err
			}

			state := map[features.Feature]bool{}
			for _, f := range a.gates.Features() {
				on, err := a.gates.Enabled(ctx, f, env)
				if err != nil {
					return err
				}
				state[f] = on
			}
			return a.print(cmd, state, func(p *printer) {
				for _, f := range a.gates.Features() {
					p.row(string(f), onOff(state[f]))
				}
				p.flush()
			})
		},
	}

	override := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <feature>",
			Short: "Force a feature " + use,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.gates.Override(cmd.Context(), features.Feature(args[0]), enabled)
			},
		}
	}

	clear := &cobra.Command{
		Use:   "clear <feature>",
		Short: "Return a feature to its rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.gates.ClearOverride(cmd.Context(), features.Feature(args[0]))
		},
	}

	cmd.AddCommand(list, override("on", true), override("off", false), clear)
	return cmd
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
