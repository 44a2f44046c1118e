package options

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "", Join())
	assert.Equal(t, "embedding.", Join("embedding"))
	assert.Equal(t, "vector.milvus.", Join("vector", "milvus"))
}

func TestCompleteAllStopsAtFirstFailure(t *testing.T) {
	var called []string
	step := func(name string, err error) Section {
		return Section{Name: name, Complete: func() error {
			called = append(called, name)
			return err
		}}
	}

	err := CompleteAll(step("http", nil), Section{Name: "noop"}, step("rag", errors.New("bad overlap")), step("cache", nil))
	require.Error(t, err)
	assert.Equal(t, "rag: bad overlap", err.Error())
	assert.Equal(t, []string{"http", "rag"}, called)
}

func TestValidateAllCollectsEverySection(t *testing.T) {
	errs := ValidateAll(
		Section{Name: "http", Validate: func() []error { return nil }},
		Section{Name: "rag", Validate: func() []error {
			return []error{errors.New("chunk size must be positive"), errors.New("top k must be positive")}
		}},
		Section{Name: "cache", Validate: func() []error { return []error{errors.New("cache.query-ttl must be positive")} }},
	)
	require.Len(t, errs, 3)
	assert.Equal(t, "rag: chunk size must be positive", errs[0].Error())
	assert.Equal(t, "cache.query-ttl must be positive", errs[2].Error())
}
