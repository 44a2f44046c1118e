package loader_test

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/loader"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestContentTypeOf(t *testing.T) {
	tests := map[string]string{
		"a.txt":      loader.ContentTypeText,
		"b.MD":       loader.ContentTypeMarkdown,
		"c.markdown": loader.ContentTypeMarkdown,
		"d.pdf":      loader.ContentTypePDF,
		"e.docx":     "",
		"noext":      "",
	}
	for path, want := range tests {
		assert.Equal(t, want, loader.ContentTypeOf(path), path)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"guide.md":  "# Guide\n\nHello world.",
		"empty.txt": "   \n",
		"doc.docx":  "binary",
	})

	doc, err := loader.LoadFile(context.Background(), filepath.Join(dir, "guide.md"), "guide.md")
	require.NoError(t, err)
	assert.Equal(t, "guide.md", doc.Filename)
	assert.Equal(t, loader.ContentTypeMarkdown, doc.ContentType)
	assert.Equal(t, "# Guide\n\nHello world.", doc.Text)
	assert.Equal(t, loader.DocumentID("guide.md"), doc.ID)
	assert.Len(t, doc.ID, 32)

	_, err = loader.LoadFile(context.Background(), filepath.Join(dir, "empty.txt"), "empty.txt")
	assert.True(t, errors.IsCode(err, errors.ErrRAGEmptyDocument.Code))

	_, err = loader.LoadFile(context.Background(), filepath.Join(dir, "doc.docx"), "doc.docx")
	assert.True(t, errors.IsCode(err, errors.ErrRAGInvalidRequest.Code))
}

func TestLoadPaths(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"docs/a.md":       "alpha",
		"docs/sub/b.txt":  "beta",
		"docs/skip.json":  "{}",
		"docs/blank.txt":  "",
		"single/note.txt": "gamma",
	})

	docs, failed, err := loader.LoadPaths(context.Background(),
		filepath.Join(dir, "docs"), filepath.Join(dir, "single", "note.txt"))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "alpha", docs[0].Text)
	assert.Equal(t, "beta", docs[1].Text)
	assert.Equal(t, "gamma", docs[2].Text)
	assert.Len(t, failed, 1)

	// 文档标识只依赖相对路径
	assert.Equal(t, loader.DocumentID(filepath.Join("docs", "sub", "b.txt")), docs[1].ID)

	req := docs[0].IndexRequest("kb", map[string]string{"lang": "en"})
	assert.Equal(t, "kb", req.StoreID)
	assert.Equal(t, docs[0].ID, req.DocumentID)
	assert.Equal(t, "a.md", req.Filename)
	assert.Equal(t, "en", req.Metadata["lang"])
}

func TestLoadPathsMissing(t *testing.T) {
	_, _, err := loader.LoadPaths(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestExtractZipSkipsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "docs.zip")

	f, err := os.Create(src)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range map[string]string{
		"inner/readme.md": "inside",
		"../escape.txt":   "outside",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(dir, "out")
	require.NoError(t, loader.ExtractZip(src, dest))

	content, err := os.ReadFile(filepath.Join(dest, "inner", "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, "inside", string(content))

	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "file.txt")
	require.NoError(t, loader.Download(context.Background(), srv.URL+"/file", dest))
	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	assert.Error(t, loader.Download(context.Background(), srv.URL+"/missing", dest))
}
