package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kart-io/sentinel-rag/cmd/rag/app/options"
	"github.com/kart-io/sentinel-rag/internal/model"
	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
)

type quotaOptions struct {
	store    string
	warnOnly bool
	failOn   string
}

func newQuotaCommand(opts *options.ServerOptions) *cobra.Command {
	o := &quotaOptions{}
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Report storage quota usage per store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withComponents(cmd.Context(), opts, func(c *ragsvc.Components) error {
				return o.run(cmd.Context(), cmd.OutOrStdout(), c.Service)
			})
		},
	}
	cmd.Flags().StringVar(&o.store, "store", "", "Only report this store.")
	cmd.Flags().BoolVar(&o.warnOnly, "warn-only", false, "Only list stores at WARNING level or above.")
	cmd.Flags().StringVar(&o.failOn, "fail-on", "", "Exit non-zero when any store reaches this level (WARNING|CRITICAL|EXCEEDED).")
	return cmd
}

func (o *quotaOptions) run(ctx context.Context, out io.Writer, svc biz.Service) error {
	var statuses []*model.QuotaStatus
	if o.store != "" {
		s, err := svc.QuotaStatus(ctx, o.store)
		if err != nil {
			return err
		}
		statuses = []*model.QuotaStatus{s}
	} else {
		all, err := svc.QuotaStatuses(ctx)
		if err != nil {
			return err
		}
		statuses = all
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STORE\tUSED\tRESERVED\tQUOTA\tPERCENT\tLEVEL")
	var breached []string
	for _, s := range statuses {
		if o.failOn != "" && severity(s.Level) >= severity(model.QuotaLevel(o.failOn)) {
			breached = append(breached, s.StoreID)
		}
		if o.warnOnly && s.Level == model.QuotaOK {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
			s.StoreID,
			humanize.IBytes(uint64(s.ConsumedBytes)),
			humanize.IBytes(uint64(s.ReservedBytes)),
			humanize.IBytes(uint64(s.QuotaBytes)),
			s.PercentUsed,
			s.Level,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(breached) > 0 {
		return fmt.Errorf("%d store(s) at or above %s: %v", len(breached), o.failOn, breached)
	}
	return nil
}

func severity(l model.QuotaLevel) int {
	switch l {
	case model.QuotaWarning:
		return 1
	case model.QuotaCritical:
		return 2
	case model.QuotaExceeded:
		return 3
	default:
		return 0
	}
}
