// Package vector provides options selecting the chunk vector store backend.
package vector

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
)

var _ options.IOptions = (*Options)(nil)

// 向量存储后端。
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendMilvus = "milvus"
)

// Options 向量存储配置。
type Options struct {
	// Backend memory 进程内精确检索，bolt 在 memory 基础上持久化到文件，milvus 使用外部集群。
	Backend string `json:"backend" mapstructure:"backend"`

	// BoltPath bolt 后端的数据文件。
	BoltPath string `json:"bolt-path" mapstructure:"bolt-path"`

	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Backend:  BackendBolt,
		BoltPath: "_output/rag-data/chunks.bolt",
		Milvus:   milvusopts.NewOptions(),
	}
}

// AddFlags adds flags for vector store options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Vector store backend (memory|bolt|milvus).")
	fs.StringVar(&o.BoltPath, p+"bolt-path", o.BoltPath, "Data file of the bolt backend.")
	if o.Milvus == nil {
		o.Milvus = milvusopts.NewOptions()
	}
	o.Milvus.AddFlags(fs, prefixes...)
}

// Complete completes the vector options with defaults.
func (o *Options) Complete() error {
	if o.Milvus == nil {
		o.Milvus = milvusopts.NewOptions()
	}
	return nil
}

// Validate validates the vector store options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Backend {
	case BackendMemory:
	case BackendBolt:
		if o.BoltPath == "" {
			errs = append(errs, fmt.Errorf("vector.bolt-path is required for the bolt backend"))
		}
	case BackendMilvus:
		errs = append(errs, o.Milvus.Validate()...)
	default:
		errs = append(errs, fmt.Errorf("unsupported vector.backend %q", o.Backend))
	}
	return errs
}
