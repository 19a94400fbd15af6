package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Objects stores message attachments in PostgreSQL and resolves them to
// durable URLs under a public base, such as the API's /objects route.
type Objects struct {
	pg      *Postgres
	baseURL string
}

// NewObjects returns an attachment store that serves uploads under baseURL.
func NewObjects(pg *Postgres, baseURL string) *Objects {
	return &Objects{
		pg:      pg,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Put stores the attachment bytes under key and returns the key as the
// opaque reference.
func (o *Objects) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	b := &blob{
		Key:         key,
		ContentType: contentType,
		Data:        data,
	}
	if _, err := o.pg.bun.NewInsert().Model(b).Exec(ctx); err != nil {
		return "", fmt.Errorf("insert blob: %w", err)
	}
	return key, nil
}

// URL resolves a reference returned by Put to its durable retrieval URL.
func (o *Objects) URL(ctx context.Context, ref string) (string, error) {
	exists, err := o.pg.bun.NewSelect().
		Model((*blob)(nil)).
		Where("key = ?", ref).
		Exists(ctx)
	if err != nil {
		return "", fmt.Errorf("select blob: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("no blob with key %q", ref)
	}
	return o.baseURL + "/objects/" + url.PathEscape(ref), nil
}

// Get returns the attachment bytes and content type for key.
func (o *Objects) Get(ctx context.Context, key string) ([]byte, string, error) {
	var b blob
	err := o.pg.bun.NewSelect().
		Model(&b).
		Where("key = ?", key).
		Scan(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("select blob: %w", err)
	}
	return b.Data, b.ContentType, nil
}
