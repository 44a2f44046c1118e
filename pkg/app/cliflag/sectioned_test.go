package cliflag

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

func TestNamedFlagSetsOrder(t *testing.T) {
	var fss NamedFlagSets
	fss.FlagSet("http").String("http.addr", ":8082", "listen address")
	fss.FlagSet("rag").Int("rag.limit", 10, "search limit")
	fss.FlagSet("http").Bool("http.debug", false, "debug")

	assert.Equal(t, []string{"http", "rag"}, fss.Order)
	assert.True(t, fss.FlagSets["http"].HasFlags())

	all := pflag.NewFlagSet("all", pflag.ContinueOnError)
	fss.AddTo(all)
	assert.NotNil(t, all.Lookup("http.addr"))
	assert.NotNil(t, all.Lookup("http.debug"))
	assert.NotNil(t, all.Lookup("rag.limit"))
}

func TestPrintSections(t *testing.T) {
	var fss NamedFlagSets
	fss.FlagSet("http").String("http.addr", ":8082", "listen address")
	fss.FlagSet("empty")

	var buf bytes.Buffer
	PrintSections(&buf, fss, 0)
	out := buf.String()
	assert.Contains(t, out, "Http flags:")
	assert.Contains(t, out, "--http.addr")
	assert.NotContains(t, out, "Empty flags:")
}
