package regression

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/storage"
)

// EvalSets loads and saves frozen evaluation sets as JSON documents in blob
// storage under <prefix>/<id>.json.
type EvalSets struct {
	blobs  storage.System
	prefix string
}

func NewEvalSets(blobs storage.System, prefix string) *EvalSets {
	return &EvalSets{blobs: blobs, prefix: prefix}
}

func (e *EvalSets) key(id string) string {
	return path.Join(e.prefix, id+".json")
}

func (e *EvalSets) Load(ctx context.Context, id string) (*EvalSet, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	rc, err := e.blobs.Download(ctx, e.key(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEvalSetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("download eval set %s: %w", id, err)
	}
	defer rc.Close()

	var set EvalSet
	if err := json.NewDecoder(rc).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidEvalSet, id, err)
	}
	return &set, nil
}

// Save writes a new evaluation set. Existing sets are never overwritten.
func (e *EvalSets) Save(ctx context.Context, set EvalSet) error {
	if err := validateID(set.ID); err != nil {
		return err
	}
	if len(set.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidEvalSet)
	}

	key := e.key(set.ID)
	exists, err := e.blobs.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check eval set %s: %w", set.ID, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrEvalSetExists, set.ID)
	}

	body, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode eval set: %w", err)
	}
	if err := e.blobs.Upload(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("upload eval set %s: %w", set.ID, err)
	}
	return nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: id %q", ErrInvalidEvalSet, id)
	}
	return nil
}
