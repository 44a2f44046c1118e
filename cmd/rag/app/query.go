package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kart-io/sentinel-rag/cmd/rag/app/options"
	"github.com/kart-io/sentinel-rag/internal/model"
	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

type queryOptions struct {
	stores     []string
	documents  []string
	maxSources int
	searchOnly bool
	asJSON     bool
}

func newQueryCommand(opts *options.ServerOptions) *cobra.Command {
	o := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the indexed stores",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withComponents(cmd.Context(), opts, func(c *ragsvc.Components) error {
				return o.run(cmd.Context(), cmd.OutOrStdout(), c.Service, question)
			})
		},
	}
	cmd.Flags().StringSliceVar(&o.stores, "store", nil, "Restrict retrieval to these stores, all stores when empty.")
	cmd.Flags().StringSliceVar(&o.documents, "document", nil, "Restrict retrieval to these document IDs.")
	cmd.Flags().IntVar(&o.maxSources, "max-sources", 0, "Maximum number of sources, 0 uses rag.max-sources.")
	cmd.Flags().BoolVar(&o.searchOnly, "search", false, "Only run similarity search, without answer generation.")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "Print the raw JSON result.")
	return cmd
}

func (o *queryOptions) run(ctx context.Context, out io.Writer, svc biz.Service, question string) error {
	if o.searchOnly {
		res, err := svc.Search(ctx, &model.SearchRequest{
			Query:       question,
			StoreIDs:    o.stores,
			DocumentIDs: o.documents,
			Limit:       o.maxSources,
		})
		if err != nil {
			return err
		}
		if o.asJSON {
			return json.NewEncoder(out).Encode(res)
		}
		if res.Empty {
			fmt.Fprintln(out, "no matching chunks")
			return nil
		}
		for i, hit := range res.Hits {
			fmt.Fprintf(out, "[%d] %.4f %s/%s#%d (%s)\n    %s\n", i+1, hit.Score, hit.StoreID, hit.DocumentID, hit.Ordinal, hit.CitationID, oneLine(hit.Text, 160))
		}
		return nil
	}

	resp, err := svc.Query(ctx, &model.QueryRequest{
		Question:    question,
		StoreIDs:    o.stores,
		DocumentIDs: o.documents,
		MaxSources:  o.maxSources,
	})
	if err != nil {
		return err
	}
	if o.asJSON {
		return json.NewEncoder(out).Encode(resp)
	}

	fmt.Fprintln(out, resp.Answer)
	fmt.Fprintf(out, "\nconfidence: %.2f  grounded: %t\n", resp.Confidence, resp.Grounded)
	for i, s := range resp.Sources {
		fmt.Fprintf(out, "[%d] %s/%s#%d %.4f (%s)\n", i+1, s.StoreID, s.DocumentID, s.ChunkOrdinal, s.Score, s.CitationID)
	}
	return nil
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
