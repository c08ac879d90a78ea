package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/services/catalog"
	"github.com/DabengBa/ccg-gateway/internal/services/health"
)

// NewProviderCommand creates the provider management command
func NewProviderCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage upstream providers",
		Long:  "Add, list, update and reorder the upstream providers of each category",
	}

	cmd.AddCommand(newProviderListCommand(ctx))
	cmd.AddCommand(newProviderAddCommand(ctx))
	cmd.AddCommand(newProviderUpdateCommand(ctx))
	cmd.AddCommand(newProviderDeleteCommand(ctx))
	cmd.AddCommand(newProviderReorderCommand(ctx))
	cmd.AddCommand(newProviderHealthCommand(ctx, "reset", "Reset the consecutive failure counter",
		func(t *health.Tracker) func(context.Context, uint) error { return t.ResetFailures }))
	cmd.AddCommand(newProviderHealthCommand(ctx, "unblacklist", "Clear an active blacklist window",
		func(t *health.Tracker) func(context.Context, uint) error { return t.Unblacklist }))

	return cmd
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid provider ID %q", arg)
	}
	return uint(id), nil
}

func newProviderListCommand(ctx context.Context) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}

			var cat models.Category
			if category != "" {
				parsed, err := models.ParseCategory(category)
				if err != nil {
					return err
				}
				cat = parsed
			}

			providers, err := catalog.NewStore(db, logger).List(ctx, cat)
			if err != nil {
				return err
			}

			now := time.Now()
			rows := make([][]string, 0, len(providers))
			for i := range providers {
				p := &providers[i]
				status := "enabled"
				switch {
				case !p.Enabled:
					status = "disabled"
				case p.IsBlacklisted(now):
					status = "blacklisted until " + p.BlacklistedUntil.Local().Format(time.DateTime)
				}
				rows = append(rows, []string{
					strconv.FormatUint(uint64(p.ID), 10),
					string(p.Category),
					p.Name,
					p.BaseURL,
					p.MaskedAPIKey(),
					strconv.Itoa(p.Priority),
					fmt.Sprintf("%d/%d", p.ConsecutiveFailures, p.FailureThreshold),
					status,
				})
			}
			OutputTable([]string{"ID", "CATEGORY", "NAME", "BASE_URL", "API_KEY", "PRIORITY", "FAILURES", "STATUS"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Filter by category (claude_code, codex, gemini)")

	return cmd
}

func newProviderAddCommand(ctx context.Context) *cobra.Command {
	var category, name, baseURL, apiKey string
	var priority, threshold, blacklistMinutes int
	var disabled bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a provider",
		Long:  "Add a provider. Without --priority it is placed after the existing providers of its category.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}

			cat, err := models.ParseCategory(category)
			if err != nil {
				return err
			}

			p := &models.Provider{
				Category:         cat,
				Name:             name,
				BaseURL:          baseURL,
				APIKey:           apiKey,
				Enabled:          !disabled,
				Priority:         priority,
				FailureThreshold: threshold,
				BlacklistMinutes: blacklistMinutes,
			}
			if err := catalog.NewStore(db, logger).Create(ctx, p); err != nil {
				return err
			}

			if outputJSON {
				OutputJSON(map[string]interface{}{"id": p.ID, "name": p.Name, "priority": p.Priority})
				return nil
			}
			printf("Provider %q created with ID %d (priority %d)\n", p.Name, p.ID, p.Priority)
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Category (required)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Provider name (required)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Upstream base URL (required)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Upstream API key (required)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority, lower is tried first")
	cmd.Flags().IntVar(&threshold, "failure-threshold", models.DefaultFailureThreshold, "Consecutive failures before blacklisting")
	cmd.Flags().IntVar(&blacklistMinutes, "blacklist-minutes", models.DefaultBlacklistMinutes, "Blacklist window in minutes")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the provider disabled")

	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("base-url")
	_ = cmd.MarkFlagRequired("api-key")

	return cmd
}

func newProviderUpdateCommand(ctx context.Context) *cobra.Command {
	var name, baseURL, apiKey string
	var priority, threshold, blacklistMinutes int
	var enabled bool

	cmd := &cobra.Command{
		Use:   "update [PROVIDER_ID]",
		Short: "Update provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var upd catalog.ProviderUpdate
			flags := cmd.Flags()
			if flags.Changed("name") {
				upd.Name = &name
			}
			if flags.Changed("base-url") {
				upd.BaseURL = &baseURL
			}
			if flags.Changed("api-key") {
				upd.APIKey = &apiKey
			}
			if flags.Changed("enabled") {
				upd.Enabled = &enabled
			}
			if flags.Changed("priority") {
				upd.Priority = &priority
			}
			if flags.Changed("failure-threshold") {
				upd.FailureThreshold = &threshold
			}
			if flags.Changed("blacklist-minutes") {
				upd.BlacklistMinutes = &blacklistMinutes
			}
			if upd == (catalog.ProviderUpdate{}) {
				return fmt.Errorf("no updates specified")
			}

			p, err := catalog.NewStore(db, logger).Update(ctx, id, upd)
			if err != nil {
				return err
			}
			printf("Provider %d updated (%s, enabled=%v, priority %d)\n", p.ID, p.Name, p.Enabled, p.Priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Update name")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Update base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Update API key")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "Enable or disable the provider")
	cmd.Flags().IntVar(&priority, "priority", 0, "Update priority")
	cmd.Flags().IntVar(&threshold, "failure-threshold", 0, "Update failure threshold")
	cmd.Flags().IntVar(&blacklistMinutes, "blacklist-minutes", 0, "Update blacklist window in minutes")

	return cmd
}

func newProviderDeleteCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [PROVIDER_ID]",
		Short: "Delete provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := catalog.NewStore(db, logger).Delete(ctx, id); err != nil {
				return err
			}
			printf("Provider %d deleted\n", id)
			return nil
		},
	}
}

func newProviderReorderCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder [PROVIDER_ID...]",
		Short: "Assign priorities in the given order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}
			ids := make([]uint, 0, len(args))
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if err := catalog.NewStore(db, logger).Reorder(ctx, ids); err != nil {
				return err
			}
			printf("Reordered %d providers\n", len(ids))
			return nil
		},
	}
}

func newProviderHealthCommand(ctx context.Context, use, short string, action func(*health.Tracker) func(context.Context, uint) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [PROVIDER_ID]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := action(health.NewTracker(db, logger))(ctx, id); err != nil {
				return err
			}
			printf("Provider %d: %s done\n", id, use)
			return nil
		},
	}
}
