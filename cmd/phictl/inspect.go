package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/privacy"
)

func newCatalogCmd(global *globalOptions) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List detection rules in priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}

			tenants, err := config.NewTenantProvider(cfg)
			if err != nil {
				return err
			}
			policy := tenants.Policy(tenant)

			if global.noColor {
				color.NoColor = true
			}
			on := color.New(color.FgGreen).SprintFunc()
			off := color.New(color.FgRed).SprintFunc()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "PRIORITY\tCATEGORY\tPATTERNS\tCONFIDENCE\tENABLED\tDESCRIPTION\n")
			for i, rule := range privacy.DefaultCatalog().Rules() {
				enabled := off("no")
				if policy.Enabled(rule.Category) {
					enabled = on("yes")
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%.2f\t%s\t%s\n",
					i+1, rule.Category, len(rule.Patterns), rule.Confidence, enabled, rule.Category.Description())
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "show switches for this tenant instead of the default policy")
	return cmd
}

// policyView is the yaml shape printed by config-check
type policyView struct {
	Mode             string   `yaml:"mode"`
	Enabled          []string `yaml:"enabled"`
	Reidentification struct {
		Allowed          bool    `yaml:"allowed"`
		RequiresApproval bool    `yaml:"requires_approval"`
		MappingTTLHours  float64 `yaml:"mapping_ttl_hours"`
	} `yaml:"reidentification"`
}

type configReport struct {
	Store   string                `yaml:"store"`
	Audit   bool                  `yaml:"audit"`
	Stream  bool                  `yaml:"audit_stream"`
	Default policyView            `yaml:"default"`
	Tenants map[string]policyView `yaml:"tenants,omitempty"`
}

func newConfigCheckCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config-check",
		Short: "Validate configuration and print the effective policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}

			defaultPolicy, err := cfg.PHI.Policy()
			if err != nil {
				return err
			}

			report := configReport{
				Store:   cfg.Store.Driver,
				Audit:   cfg.Audit.Enabled,
				Stream:  cfg.Audit.Enabled && cfg.Audit.WebSocket.Enabled,
				Default: newPolicyView(defaultPolicy),
			}

			if len(cfg.Tenants) > 0 {
				tenants, err := config.NewTenantProvider(cfg)
				if err != nil {
					return err
				}
				report.Tenants = make(map[string]policyView, len(cfg.Tenants))
				for id := range cfg.Tenants {
					report.Tenants[id] = newPolicyView(tenants.Policy(id))
				}
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newPolicyView(policy privacy.Policy) policyView {
	view := policyView{Mode: string(policy.Mode), Enabled: []string{}}
	for c, on := range policy.Categories {
		if on {
			view.Enabled = append(view.Enabled, string(c))
		}
	}
	sort.Strings(view.Enabled)
	view.Reidentification.Allowed = policy.Reidentification.Allowed
	view.Reidentification.RequiresApproval = policy.Reidentification.RequiresApproval
	view.Reidentification.MappingTTLHours = policy.Reidentification.MappingTTLHours
	return view
}
