// Package loader 把本地文件、目录与 ZIP 包读取为待索引的文本文档。
package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/httpclient"
)

// 支持的内容类型。
const (
	ContentTypeText     = "text/plain"
	ContentTypeMarkdown = "text/markdown"
	ContentTypePDF      = "application/pdf"
)

var contentTypes = map[string]string{
	".txt":      ContentTypeText,
	".md":       ContentTypeMarkdown,
	".markdown": ContentTypeMarkdown,
	".mdx":      ContentTypeMarkdown,
	".pdf":      ContentTypePDF,
}

// Document 从文件读取的文本及其来源信息。
type Document struct {
	ID          string
	Path        string
	Filename    string
	ContentType string
	Text        string
}

// IndexRequest 转换为指定知识库的索引请求。
func (d *Document) IndexRequest(storeID string, metadata map[string]string) *model.IndexRequest {
	return &model.IndexRequest{
		DocumentID:  d.ID,
		StoreID:     storeID,
		Text:        d.Text,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		Metadata:    metadata,
	}
}

// DocumentID 由相对路径推导稳定的文档标识，同一文件重复导入命中同一文档。
func DocumentID(relPath string) string {
	return textutil.HashString(filepath.ToSlash(filepath.Clean(relPath)))[:32]
}

// ContentTypeOf 按扩展名返回内容类型，不支持的扩展名返回空串。
func ContentTypeOf(path string) string {
	return contentTypes[strings.ToLower(filepath.Ext(path))]
}

// Supported 判断文件是否可以加载。
func Supported(path string) bool {
	return ContentTypeOf(path) != ""
}

// LoadFile 读取单个文件，relPath 用于生成文档标识。
func LoadFile(ctx context.Context, path, relPath string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ct := ContentTypeOf(path)
	if ct == "" {
		return nil, errors.ErrRAGInvalidRequest.WithMessagef("unsupported file type: %s", filepath.Ext(path))
	}

	var (
		text string
		err  error
	)
	if ct == ContentTypePDF {
		text, err = readPDF(path)
	} else {
		text, err = readText(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.ErrRAGEmptyDocument.WithMessagef("no text extracted from %s", path)
	}

	return &Document{
		ID:          DocumentID(relPath),
		Path:        path,
		Filename:    filepath.Base(path),
		ContentType: ct,
		Text:        text,
	}, nil
}

// LoadPaths 加载文件与目录，目录递归读取其中所有支持的文件。
// 单个文件失败不影响其余文件，失败按路径返回。
func LoadPaths(ctx context.Context, paths ...string) ([]*Document, map[string]error, error) {
	var (
		docs   []*Document
		failed = make(map[string]error)
	)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, nil, err
		}
		if !info.IsDir() {
			doc, err := LoadFile(ctx, p, filepath.Base(p))
			if err != nil {
				failed[p] = err
				continue
			}
			docs = append(docs, doc)
			continue
		}

		files, err := FindFiles(p)
		if err != nil {
			return nil, nil, err
		}
		for _, f := range files {
			rel, err := filepath.Rel(p, f)
			if err != nil {
				rel = f
			}
			doc, err := LoadFile(ctx, f, filepath.Join(filepath.Base(p), rel))
			if err != nil {
				if ctx.Err() != nil {
					return docs, failed, ctx.Err()
				}
				failed[f] = err
				continue
			}
			docs = append(docs, doc)
		}
	}
	return docs, failed, nil
}

// FindFiles 递归查找目录中所有支持的文件，按路径排序。
func FindFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && Supported(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func readText(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(content) {
		content = bytes.ToValidUTF8(content, []byte("�"))
	}
	return string(content), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Download 下载 URL 内容到指定路径。
func Download(ctx context.Context, url, dest string) error {
	resp, err := httpclient.New(0).Get(ctx, url)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

// ExtractZip 解压 ZIP 文件到指定目录，跳过指向目录之外的条目。
func ExtractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	root := filepath.Clean(dest) + string(os.PathSeparator)

	for _, f := range r.File {
		path := filepath.Join(dest, f.Name)
		// ZipSlip
		if !strings.HasPrefix(path, root) {
			continue
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, path); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = io.Copy(out, rc)
	return err
}
