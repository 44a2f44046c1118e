package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kart-io/sentinel-rag/cmd/rag/app/options"
	"github.com/kart-io/sentinel-rag/internal/model"
	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

const storePageSize = 200

// storeManifest 知识库定义的 YAML 表示，只包含可迁移的配置，不含用量。
type storeManifest struct {
	Stores []storeSpec `yaml:"stores"`
}

type storeSpec struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name,omitempty"`
	Description string       `yaml:"description,omitempty"`
	QuotaBytes  int64        `yaml:"quota_bytes,omitempty"`
	Chunking    chunkingSpec `yaml:"chunking,omitempty"`
}

type chunkingSpec struct {
	Strategy   string `yaml:"strategy,omitempty"`
	MaxTokens  int    `yaml:"max_tokens_per_chunk,omitempty"`
	MaxOverlap int    `yaml:"max_overlap_tokens,omitempty"`
}

func newStoresCommand(opts *options.ServerOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stores",
		Short: "List, export and import store definitions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stores with their usage",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withComponents(cmd.Context(), opts, func(c *ragsvc.Components) error {
					return listStores(cmd.Context(), cmd.OutOrStdout(), c.Service)
				})
			},
		},
		newStoresExportCommand(opts),
		newStoresImportCommand(opts),
	)
	return cmd
}

func newStoresExportCommand(opts *options.ServerOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every store definition as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withComponents(cmd.Context(), opts, func(c *ragsvc.Components) error {
				out := cmd.OutOrStdout()
				if file != "" && file != "-" {
					f, err := os.Create(file)
					if err != nil {
						return err
					}
					defer f.Close()
					out = f
				}
				return exportStores(cmd.Context(), out, c.Service)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Output file, '-' for stdout.")
	return cmd
}

func newStoresImportCommand(opts *options.ServerOptions) *cobra.Command {
	var (
		file        string
		updateQuota bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create stores from a YAML manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return withComponents(cmd.Context(), opts, func(c *ragsvc.Components) error {
				return importStores(cmd.Context(), in, cmd.OutOrStdout(), c.Service, updateQuota)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Manifest file, '-' for stdin.")
	cmd.Flags().BoolVar(&updateQuota, "update-quota", false, "Apply the manifest quota to stores that already exist.")
	return cmd
}

func allStores(ctx context.Context, svc biz.Service) ([]*model.Store, error) {
	var stores []*model.Store
	for offset := int64(0); ; offset += storePageSize {
		total, page, err := svc.ListStores(ctx, offset, storePageSize)
		if err != nil {
			return nil, err
		}
		stores = append(stores, page...)
		if len(page) == 0 || int64(len(stores)) >= total {
			return stores, nil
		}
	}
}

func listStores(ctx context.Context, out io.Writer, svc biz.Service) error {
	stores, err := allStores(ctx, svc)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOCUMENTS\tCHUNKS\tUSED\tQUOTA\tSTRATEGY")
	for _, s := range stores {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s/%d/%d\n",
			s.ID, s.DocumentCount, s.ChunkCount,
			humanize.IBytes(uint64(s.ConsumedBytes)), humanize.IBytes(uint64(s.QuotaBytes)),
			s.Chunking.Strategy, s.Chunking.MaxTokens, s.Chunking.MaxOverlap)
	}
	return tw.Flush()
}

func exportStores(ctx context.Context, out io.Writer, svc biz.Service) error {
	stores, err := allStores(ctx, svc)
	if err != nil {
		return err
	}
	m := storeManifest{Stores: make([]storeSpec, 0, len(stores))}
	for _, s := range stores {
		m.Stores = append(m.Stores, storeSpec{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			QuotaBytes:  s.QuotaBytes,
			Chunking: chunkingSpec{
				Strategy:   string(s.Chunking.Strategy),
				MaxTokens:  s.Chunking.MaxTokens,
				MaxOverlap: s.Chunking.MaxOverlap,
			},
		})
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(&m); err != nil {
		return err
	}
	return enc.Close()
}

func importStores(ctx context.Context, in io.Reader, out io.Writer, svc biz.Service, updateQuota bool) error {
	var m storeManifest
	if err := yaml.NewDecoder(in).Decode(&m); err != nil {
		return fmt.Errorf("decode store manifest: %w", err)
	}

	var created, updated, skipped int
	for _, spec := range m.Stores {
		_, err := svc.CreateStore(ctx, &model.Store{
			ID:          spec.ID,
			Name:        spec.Name,
			Description: spec.Description,
			QuotaBytes:  spec.QuotaBytes,
			Chunking: model.ChunkingConfig{
				Strategy:   model.ChunkingStrategy(spec.Chunking.Strategy),
				MaxTokens:  spec.Chunking.MaxTokens,
				MaxOverlap: spec.Chunking.MaxOverlap,
			},
		})
		switch {
		case err == nil:
			created++
			fmt.Fprintf(out, "created  %s\n", spec.ID)
		case errors.IsCode(err, errors.ErrStoreExists.Code):
			if updateQuota && spec.QuotaBytes > 0 {
				if _, err := svc.SetQuota(ctx, spec.ID, spec.QuotaBytes); err != nil {
					return fmt.Errorf("update quota of %s: %w", spec.ID, err)
				}
				updated++
				fmt.Fprintf(out, "updated  %s\n", spec.ID)
				continue
			}
			skipped++
			fmt.Fprintf(out, "exists   %s\n", spec.ID)
		default:
			return fmt.Errorf("create store %s: %w", spec.ID, err)
		}
	}
	fmt.Fprintf(out, "%d created, %d updated, %d skipped\n", created, updated, skipped)
	return nil
}
