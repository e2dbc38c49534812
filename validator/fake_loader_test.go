package validator_test

import (
	"context"

	"github.com/choreoflow/choreoctl/validator"
)

// memLoader serves import bytes from an in-memory map keyed by URI, so
// validator tests never touch the filesystem.
type memLoader map[string][]byte

var _ validator.Loader = memLoader{}

func (m memLoader) Load(ctx context.Context, uri, baseDir string) ([]byte, error) {
	b, ok := m[uri]
	if !ok {
		return nil, errNotFoundURI(uri)
	}
	return b, nil
}

type errNotFoundURI string

func (e errNotFoundURI) Error() string { return "no such import: " + string(e) }
