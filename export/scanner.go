package export

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// CollectionScanner drives a failsafe traversal of the collection index
//. It runs a counting pass first to size the progress
// denominator, then an exporting pass that hands every surviving
// collection to CollectionExporter.
type CollectionScanner struct {
	broker Broker
	codec  CollectionCodec
	log    *zap.Logger

	cachedTotal int
	counted     bool
}

// NewCollectionScanner builds a scanner over broker, decoding keys and
// records with codec.
func NewCollectionScanner(broker Broker, codec CollectionCodec, log *zap.Logger) *CollectionScanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &CollectionScanner{broker: broker, codec: codec, log: log}
}

// Count runs a counting-only pass over the collection index, caching the
// result so a subsequent Run reuses it.
func (s *CollectionScanner) Count(ctx context.Context) (int, error) {
	if s.counted {
		return s.cachedTotal, nil
	}
	total := 0
	err := s.broker.ScanCollectionsFailsafe(ctx, func(ctx context.Context, rawKey []byte, record io.Reader) error {
		if _, _, ok := s.codec.DecodeCollectionKey(rawKey); ok {
			total++
		}
		// Drain so an exhausted-but-unread stream doesn't wedge the
		// broker's underlying cursor.
		_, _ = io.Copy(io.Discard, record)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.cachedTotal = total
	s.counted = true
	return total, nil
}

// exportFunc is invoked once per surviving collection, in scan order.
type exportFunc func(ctx context.Context, col Collection, seen int, total int) error

// Run performs the exporting pass: every collection record that decodes
// cleanly is handed to export in order; any decode fault is reported
// through onError and traversal continues with the next key — a corrupted
// key never aborts the whole export. The scanner logs such faults itself
// only when onError is nil, so each fault is logged once.
func (s *CollectionScanner) Run(ctx context.Context, export exportFunc, onError func(col CollectionID, uri string, cause error)) error {
	total, err := s.Count(ctx)
	if err != nil {
		return err
	}

	seen := 0
	scanErr := s.broker.ScanCollectionsFailsafe(ctx, func(ctx context.Context, rawKey []byte, record io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, uri, ok := s.codec.DecodeCollectionKey(rawKey)
		if !ok {
			return nil
		}

		col, derr := s.codec.DecodeCollectionRecord(record)
		if derr != nil {
			if onError != nil {
				onError(id, uri, derr)
			} else {
				s.log.Warn("failed to decode collection record", zap.Uint64("collectionId", uint64(id)), zap.Error(derr))
			}
			return nil
		}
		// Identity comes from the key; the record only
		// supplies the remaining attributes.
		col.ID = id
		col.URI = uri

		eerr := export(ctx, col, seen, total)
		seen++
		if eerr != nil {
			if errors.Is(eerr, ErrTerminated) || errors.Is(eerr, context.Canceled) || errors.Is(eerr, context.DeadlineExceeded) {
				return eerr
			}
			// Per-collection failures are reported and the traversal
			// proceeds.
			if onError != nil {
				onError(id, uri, eerr)
			} else {
				s.log.Warn("failed to export collection", zap.String("uri", col.URI), zap.Error(eerr))
			}
		}
		return nil
	})
	if scanErr != nil {
		return fmt.Errorf("export: collection scan terminated: %w", scanErr)
	}
	return nil
}
