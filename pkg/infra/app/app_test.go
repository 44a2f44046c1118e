package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/app/cliflag"
)

type testHTTP struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type testOptions struct {
	HTTP  *testHTTP `mapstructure:"http"`
	Name  string    `mapstructure:"name"`
	Token string    `mapstructure:"token"`

	completed bool
	validate  func() error
}

func newTestOptions() *testOptions {
	return &testOptions{HTTP: &testHTTP{Addr: ":8080", Timeout: time.Second}, Name: "default"}
}

func (o *testOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("http")
	fs.StringVar(&o.HTTP.Addr, "http.addr", o.HTTP.Addr, "addr")
	fs.DurationVar(&o.HTTP.Timeout, "http.timeout", o.HTTP.Timeout, "timeout")
	misc := fss.FlagSet("misc")
	misc.StringVar(&o.Name, "name", o.Name, "name")
	misc.StringVar(&o.Token, "token", o.Token, "token")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.validate != nil {
		return o.validate()
	}
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func runApp(t *testing.T, opts *testOptions, args ...string) error {
	t.Helper()
	var ran bool
	a := NewApp(
		WithName("sentinel-test"),
		WithOptions(opts),
		WithNoVersion(),
		WithEnvFiles(),
		WithRunFunc(func(context.Context) error {
			ran = true
			return nil
		}),
	)
	if args == nil {
		args = []string{}
	}
	a.Command().SetArgs(args)
	err := a.Command().ExecuteContext(context.Background())
	if err == nil {
		assert.True(t, ran)
	}
	return err
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "SENTINEL_RAG", EnvPrefix("sentinel-rag"))
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "app.yaml", "http:\n  addr: \":9000\"\n  timeout: 5s\nname: from-file\n")

	opts := newTestOptions()
	require.NoError(t, runApp(t, opts, "--config", cfg, "--name", "from-flag"))

	assert.Equal(t, ":9000", opts.HTTP.Addr)
	assert.Equal(t, 5*time.Second, opts.HTTP.Timeout)
	assert.Equal(t, "from-flag", opts.Name)
	assert.True(t, opts.completed)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SENTINEL_TEST_HTTP_ADDR", ":7000")

	opts := newTestOptions()
	require.NoError(t, runApp(t, opts))
	assert.Equal(t, ":7000", opts.HTTP.Addr)
}

func TestConfigExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_RAG_TOKEN", "s3cret")
	cfg := writeFile(t, t.TempDir(), "app.yaml", "token: ${TEST_RAG_TOKEN}\n")

	opts := newTestOptions()
	require.NoError(t, runApp(t, opts, "--config", cfg))
	assert.Equal(t, "s3cret", opts.Token)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	opts := newTestOptions()
	err := runApp(t, opts, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateErrorStopsRun(t *testing.T) {
	opts := newTestOptions()
	opts.validate = func() error { return assert.AnError }
	err := runApp(t, opts)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestEnvFileLoaded(t *testing.T) {
	env := writeFile(t, t.TempDir(), "test.env", "SENTINEL_TEST_NAME=from-dotenv\n")
	t.Cleanup(func() { _ = os.Unsetenv("SENTINEL_TEST_NAME") })

	opts := newTestOptions()
	a := NewApp(
		WithName("sentinel-test"),
		WithOptions(opts),
		WithNoVersion(),
		WithEnvFiles(env, filepath.Join(t.TempDir(), "absent.env")),
		WithRunFunc(func(context.Context) error { return nil }),
	)
	a.Command().SetArgs([]string{})
	require.NoError(t, a.Command().Execute())
	assert.Equal(t, "from-dotenv", opts.Name)
}
