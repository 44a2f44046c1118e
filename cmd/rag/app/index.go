package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kart-io/sentinel-rag/cmd/rag/app/options"
	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/loader"
	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
)

type indexOptions struct {
	store    string
	url      string
	metadata map[string]string
}

func newIndexCommand(opts *options.ServerOptions) *cobra.Command {
	o := &indexOptions{}
	cmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "Index local files, directories or a downloaded archive into a store",
		Example: `  sentinel-rag index --store handbook ./docs
  sentinel-rag index --store releases --url https://example.com/notes.zip`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && o.url == "" {
				return fmt.Errorf("at least one path or --url is required")
			}
			return withComponents(cmd.Context(), opts, func(c *ragsvc.Components) error {
				return o.run(cmd.Context(), cmd.OutOrStdout(), c.Service, args)
			})
		},
	}
	cmd.Flags().StringVar(&o.store, "store", "", "Target store ID, created with defaults if missing.")
	cmd.Flags().StringVar(&o.url, "url", "", "Download a file or .zip archive and index its contents.")
	cmd.Flags().StringToStringVar(&o.metadata, "meta", nil, "Metadata attached to every document (key=value).")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}

func (o *indexOptions) run(ctx context.Context, out io.Writer, svc biz.Service, paths []string) error {
	if o.url != "" {
		dir, err := os.MkdirTemp("", "sentinel-rag-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		p, err := fetch(ctx, o.url, dir)
		if err != nil {
			return err
		}
		paths = append(paths, p)
	}

	docs, failed, err := loader.LoadPaths(ctx, paths...)
	if err != nil {
		return err
	}
	printLoadFailures(out, failed)
	if len(docs) == 0 {
		return fmt.Errorf("no indexable documents found")
	}

	reqs := make([]*model.IndexRequest, len(docs))
	for i, d := range docs {
		reqs[i] = d.IndexRequest(o.store, o.metadata)
	}

	var processed, failures, chunks int
	for start := 0; start < len(reqs); start += biz.MaxBatchDocuments {
		end := min(start+biz.MaxBatchDocuments, len(reqs))
		batch, err := svc.IndexBatch(ctx, o.store, reqs[start:end])
		if err != nil {
			return err
		}
		batch, err = svc.WaitBatch(ctx, batch.ID)
		if err != nil {
			return err
		}

		processed += batch.Processed
		failures += batch.Failed
		for _, item := range batch.Items {
			chunks += item.ChunksCreated
			if item.Error != "" {
				fmt.Fprintf(out, "FAIL  %s: %s\n", item.DocumentID, item.Error)
			}
		}
		fmt.Fprintf(out, "batch %s: %d indexed, %d failed\n", batch.ID, batch.Processed, batch.Failed)
	}

	status, err := svc.QuotaStatus(ctx, o.store)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d documents indexed into %q (%d chunks), %d failed\n", processed, o.store, chunks, failures+len(failed))
	fmt.Fprintf(out, "quota: %s of %s used (%.1f%%, %s)\n",
		humanize.IBytes(uint64(status.ConsumedBytes)), humanize.IBytes(uint64(status.QuotaBytes)),
		status.PercentUsed, status.Level)

	if failures > 0 && processed == 0 {
		return fmt.Errorf("all %d documents failed to index", failures)
	}
	return nil
}

// fetch 下载 url 到 dir，zip 归档会被解压，返回待加载的路径。
func fetch(ctx context.Context, url, dir string) (string, error) {
	name := path.Base(strings.SplitN(url, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "download.txt"
	}
	dest := filepath.Join(dir, name)
	if err := loader.Download(ctx, url, dest); err != nil {
		return "", err
	}
	if !strings.EqualFold(filepath.Ext(name), ".zip") {
		return dest, nil
	}

	extracted := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name)))
	if err := loader.ExtractZip(dest, extracted); err != nil {
		return "", fmt.Errorf("extract %s: %w", name, err)
	}
	return extracted, nil
}

func printLoadFailures(out io.Writer, failed map[string]error) {
	paths := make([]string, 0, len(failed))
	for p := range failed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(out, "SKIP  %s: %v\n", p, failed[p])
	}
}
