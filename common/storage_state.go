package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/liuxd6825/autowait/storage"
)

// validateStorageState checks that a storage state blob is a JSON object.
// Its content is passed through untouched; only the top-level cookies and
// origins arrays are checked when present.
func validateStorageState(state []byte) error {
	if len(bytes.TrimSpace(state)) == 0 {
		return errors.New("storage state is empty")
	}
	if !gjson.ValidBytes(state) {
		return errors.New("storage state is not valid JSON")
	}
	root := gjson.ParseBytes(state)
	if !root.IsObject() {
		return fmt.Errorf("storage state must be a JSON object, got %s", root.Type)
	}
	for _, key := range []string{"cookies", "origins"} {
		if v := root.Get(key); v.Exists() && !v.IsArray() {
			return fmt.Errorf("storage state field %q must be an array", key)
		}
	}
	return nil
}

func persistStorageState(ctx context.Context, p storage.Persister, path string, state []byte) error {
	if err := p.Persist(ctx, path, bytes.NewReader(state)); err != nil {
		return fmt.Errorf("persisting storage state to %q: %w", path, err)
	}
	return nil
}

// readStorageState loads a storage state file through the persister's file
// system when it has one.
func readStorageState(p storage.Persister, path string) ([]byte, error) {
	fp, ok := p.(*storage.FilePersister)
	if !ok {
		fp = storage.NewLocalFilePersister()
	}
	state, err := fp.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading storage state from %q: %w", path, err)
	}
	if err := validateStorageState(state); err != nil {
		return nil, fmt.Errorf("reading storage state from %q: %w", path, err)
	}
	return state, nil
}
