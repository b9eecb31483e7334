package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"variantcore/pkg/domain"
)

type collection[T domain.Document] struct {
	backend   Backend
	name      string
	keepAlive time.Duration
	logger    logrus.FieldLogger
}

func newCollection[T domain.Document](backend Backend, name string, keepAlive time.Duration, logger logrus.FieldLogger) *collection[T] {
	return &collection[T]{
		backend:   backend,
		name:      name,
		keepAlive: keepAlive,
		logger:    logger.WithField("collection", name),
	}
}

func (c *collection[T]) Name() string { return c.name }

func (c *collection[T]) encode(doc T) (RawDoc, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return RawDoc{}, fmt.Errorf("encode %s %s: %w", c.name, doc.DocumentID(), err)
	}
	raw := RawDoc{
		ID:        doc.DocumentID(),
		Accession: doc.DocumentAccession(),
		Assembly:  doc.DocumentAssembly(),
		Payload:   payload,
	}
	if ref := doc.DocumentReference(); ref != nil {
		v := *ref
		raw.Reference = &v
	}
	return raw, nil
}

func (c *collection[T]) decode(raw RawDoc) (T, error) {
	var doc T
	if err := json.Unmarshal(raw.Payload, &doc); err != nil {
		return doc, fmt.Errorf("decode %s %s: %w", c.name, raw.ID, err)
	}
	return doc, nil
}

func (c *collection[T]) decodeAll(raws []RawDoc) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		doc, err := c.decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *collection[T]) FindByHash(ctx context.Context, hash string) (T, bool, error) {
	var zero T
	raws, err := c.backend.Get(ctx, c.name, []string{hash})
	if err != nil {
		return zero, false, fmt.Errorf("find %s %s: %w", c.name, hash, err)
	}
	if len(raws) == 0 {
		return zero, false, nil
	}
	doc, err := c.decode(raws[0])
	if err != nil {
		return zero, false, err
	}
	return doc, true, nil
}

func (c *collection[T]) FindByHashes(ctx context.Context, hashes []string) ([]T, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	raws, err := c.backend.Get(ctx, c.name, hashes)
	if err != nil {
		return nil, fmt.Errorf("find %s by hashes: %w", c.name, err)
	}
	return c.decodeAll(raws)
}

func (c *collection[T]) FindByAccession(ctx context.Context, accession int64) ([]T, error) {
	raws, err := c.backend.ByAccession(ctx, c.name, accession)
	if err != nil {
		return nil, fmt.Errorf("find %s by accession %d: %w", c.name, accession, err)
	}
	return c.decodeAll(raws)
}

func (c *collection[T]) Exists(ctx context.Context, hash string) (bool, error) {
	raws, err := c.backend.Get(ctx, c.name, []string{hash})
	if err != nil {
		return false, fmt.Errorf("exists %s %s: %w", c.name, hash, err)
	}
	return len(raws) > 0, nil
}

func (c *collection[T]) BulkInsert(ctx context.Context, docs []T) (domain.BulkResult, error) {
	if len(docs) == 0 {
		return domain.BulkResult{}, nil
	}
	raws := make([]RawDoc, 0, len(docs))
	for _, doc := range docs {
		raw, err := c.encode(doc)
		if err != nil {
			return domain.BulkResult{}, err
		}
		raws = append(raws, raw)
	}
	dups, err := c.backend.Insert(ctx, c.name, raws)
	if err != nil {
		return domain.BulkResult{}, fmt.Errorf("bulk insert %s: %w", c.name, err)
	}
	return domain.BulkResult{Inserted: len(docs) - len(dups), Duplicates: dups}, nil
}

func (c *collection[T]) Upsert(ctx context.Context, doc T) error {
	raw, err := c.encode(doc)
	if err != nil {
		return err
	}
	if err := c.backend.Upsert(ctx, c.name, raw); err != nil {
		return fmt.Errorf("upsert %s %s: %w", c.name, raw.ID, err)
	}
	return nil
}

func (c *collection[T]) DeleteByHash(ctx context.Context, hashes ...string) (int, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	n, err := c.backend.Delete(ctx, c.name, hashes)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", c.name, err)
	}
	return n, nil
}

func (c *collection[T]) Stream(ctx context.Context, q domain.Query) (domain.Cursor[T], error) {
	raw, err := c.backend.Query(ctx, c.name, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}
	stop := startKeepAlive(ctx, c.keepAlive, c.backend.Ping, c.logger)
	return &cursor[T]{coll: c, raw: raw, stop: stop}, nil
}
