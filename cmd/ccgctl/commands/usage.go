package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/services/usage"
)

// NewUsageCommand creates the usage statistics command
func NewUsageCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect usage statistics",
	}

	var filter usageFilter
	cmd.PersistentFlags().StringVar(&filter.from, "from", "", "First day, YYYY-MM-DD (default 7 days ago)")
	cmd.PersistentFlags().StringVar(&filter.to, "to", "", "Last day, YYYY-MM-DD")
	cmd.PersistentFlags().UintVar(&filter.provider, "provider", 0, "Restrict to one provider ID")
	cmd.PersistentFlags().StringVarP(&filter.category, "category", "c", "", "Restrict to one category")

	cmd.AddCommand(newUsageDailyCommand(ctx, &filter))
	cmd.AddCommand(newUsageProvidersCommand(ctx, &filter))
	cmd.AddCommand(newUsagePruneCommand(ctx))

	return cmd
}

type usageFilter struct {
	from, to, category string
	provider           uint
}

func (f *usageFilter) build() (usage.StatsFilter, error) {
	sf := usage.StatsFilter{From: f.from, To: f.to, ProviderID: f.provider}
	for _, d := range []string{sf.From, sf.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(models.UsageDateLayout, d); err != nil {
			return sf, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", d)
		}
	}
	if sf.From == "" {
		sf.From = time.Now().AddDate(0, 0, -6).Format(models.UsageDateLayout)
	}
	if f.category != "" {
		cat, err := models.ParseCategory(f.category)
		if err != nil {
			return sf, err
		}
		sf.Category = cat
	}
	return sf, nil
}

func newUsageDailyCommand(ctx context.Context, f *usageFilter) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Show daily counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}
			sf, err := f.build()
			if err != nil {
				return err
			}

			rows, err := usage.NewStore(db, logger).Daily(ctx, sf)
			if err != nil {
				return err
			}

			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{
					r.UsageDate,
					strconv.FormatUint(uint64(r.ProviderID), 10),
					string(r.Category),
					strconv.FormatInt(r.RequestCount, 10),
					strconv.FormatInt(r.SuccessCount, 10),
					strconv.FormatInt(r.FailureCount, 10),
				})
			}
			OutputTable([]string{"DATE", "PROVIDER", "CATEGORY", "REQUESTS", "SUCCESS", "FAILURE"}, table)
			return nil
		},
	}
}

func newUsageProvidersCommand(ctx context.Context, f *usageFilter) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show per-provider totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}
			sf, err := f.build()
			if err != nil {
				return err
			}

			totals, err := usage.NewStore(db, logger).Totals(ctx, sf)
			if err != nil {
				return err
			}

			table := make([][]string, 0, len(totals))
			for _, t := range totals {
				table = append(table, []string{
					strconv.FormatUint(uint64(t.ProviderID), 10),
					string(t.Category),
					strconv.FormatInt(t.RequestCount, 10),
					strconv.FormatInt(t.FailureCount, 10),
					fmt.Sprintf("%.1f%%", t.SuccessRate()*100),
				})
			}
			OutputTable([]string{"PROVIDER", "CATEGORY", "REQUESTS", "FAILURES", "SUCCESS_RATE"}, table)
			return nil
		},
	}
}

func newUsagePruneCommand(ctx context.Context) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete daily counters older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireDB(); err != nil {
				return err
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			deleted, err := usage.NewStore(db, logger).Prune(ctx, time.Now(), days)
			if err != nil {
				return err
			}
			printf("Deleted %d daily rows\n", deleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 90, "Retention in days")

	return cmd
}
