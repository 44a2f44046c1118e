package store

import (
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

func errInvalidChunk(format string, args ...any) error {
	return errors.ErrVectorStore.WithMessagef(format, args...)
}

func errVectorStore(err error, format string, args ...any) error {
	return errors.ErrVectorStore.WithCause(err).WithMessagef(format, args...)
}

func errMetaStore(err error, format string, args ...any) error {
	return errors.ErrMetaStore.WithCause(err).WithMessagef(format, args...)
}
