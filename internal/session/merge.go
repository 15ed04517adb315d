package session

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// MergeOptions controls MergeWrite.
type MergeOptions struct {
	// Retries bounds compare-and-swap attempts on a VersionedStore.
	Retries int
	// CreateMissing treats an absent document as empty instead of failing
	// with ErrNotFound.
	CreateMissing bool
}

const defaultMergeRetries = 5

// MergeWrite reads the document, overlays patch and writes the result.
//
// Against a VersionedStore the cycle is a compare-and-swap retried on
// ErrVersionConflict, so concurrent writers never lose each other's
// entries. Against a plain Store the cycle is a bare read-modify-write and
// the last writer wins.
func MergeWrite(ctx context.Context, s Store, id string, patch Document, opts MergeOptions) error {
	vs, ok := s.(VersionedStore)
	if !ok {
		doc, err := readForMerge(ctx, s.Read, id, opts)
		if err != nil {
			return err
		}
		return eris.Wrapf(s.Write(ctx, id, Merge(doc, patch)), "session: merge write %s", id)
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = defaultMergeRetries
	}
	cfg := resilience.ConflictRetryConfig(retries, func(err error) bool {
		return errors.Is(err, ErrVersionConflict)
	})
	cfg.OnRetry = resilience.RetryLogger("session", "merge_write")

	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		var ver Version
		doc, err := readForMerge(ctx, func(ctx context.Context, id string) (Document, error) {
			d, v, err := vs.ReadVersion(ctx, id)
			ver = v
			return d, err
		}, id, opts)
		if err != nil {
			return err
		}
		return vs.WriteVersion(ctx, id, Merge(doc, patch), ver)
	})
	if errors.Is(err, ErrVersionConflict) {
		zap.L().Warn("session: merge write gave up after conflicts",
			zap.String("session_id", id),
			zap.Int("attempts", retries),
		)
	}
	return eris.Wrapf(err, "session: merge write %s", id)
}

func readForMerge(ctx context.Context, read func(context.Context, string) (Document, error), id string, opts MergeOptions) (Document, error) {
	doc, err := read(ctx, id)
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, ErrNotFound) && opts.CreateMissing:
		return Document{}, nil
	default:
		return nil, eris.Wrapf(err, "session: merge read %s", id)
	}
}
