package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCSStore keeps session documents as objects in a Cloud Storage bucket.
// Object generations act as versions.
type GCSStore struct {
	svc    *storage.Service
	bucket string
}

// NewGCSStore creates a GCSStore for bucket.
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, eris.New("session: gcs bucket is required")
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "session: create storage service")
	}
	return &GCSStore{svc: svc, bucket: bucket}, nil
}

// Read implements Store.
func (g *GCSStore) Read(ctx context.Context, id string) (Document, error) {
	doc, _, err := g.ReadVersion(ctx, id)
	return doc, err
}

// ReadVersion implements VersionedStore.
func (g *GCSStore) ReadVersion(ctx context.Context, id string) (Document, Version, error) {
	resp, err := g.svc.Objects.Get(g.bucket, id).Context(ctx).Download()
	if err != nil {
		return nil, NoVersion, g.mapErr(err, "download", id)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NoVersion, eris.Wrapf(err, "session: gcs read body %s", id)
	}
	doc, err := decode(body)
	if err != nil {
		return nil, NoVersion, err
	}
	return doc, Version(resp.Header.Get("X-Goog-Generation")), nil
}

// Write implements Store.
func (g *GCSStore) Write(ctx context.Context, id string, doc Document) error {
	_, err := g.insert(ctx, id, doc, nil)
	return err
}

// WriteVersion implements VersionedStore. NoVersion maps to generation 0,
// which GCS treats as "must not exist".
func (g *GCSStore) WriteVersion(ctx context.Context, id string, doc Document, expected Version) error {
	var gen int64
	if expected != NoVersion {
		n, err := strconv.ParseInt(string(expected), 10, 64)
		if err != nil {
			return eris.Wrapf(err, "session: gcs generation %q", expected)
		}
		gen = n
	}
	_, err := g.insert(ctx, id, doc, &gen)
	return err
}

// Exists implements Store.
func (g *GCSStore) Exists(ctx context.Context, id string) (bool, error) {
	_, err := g.svc.Objects.Get(g.bucket, id).Fields("name").Context(ctx).Do()
	if err == nil {
		return true, nil
	}
	err = g.mapErr(err, "stat", id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (g *GCSStore) insert(ctx context.Context, id string, doc Document, generation *int64) (*storage.Object, error) {
	body, err := encode(doc)
	if err != nil {
		return nil, err
	}
	call := g.svc.Objects.Insert(g.bucket, &storage.Object{
		Name:        id,
		ContentType: "application/json",
	}).Media(bytes.NewReader(body), googleapi.ContentType("application/json")).Context(ctx)
	if generation != nil {
		call = call.IfGenerationMatch(*generation)
	}
	obj, err := call.Do()
	if err != nil {
		return nil, g.mapErr(err, "upload", id)
	}
	return obj, nil
}

func (g *GCSStore) mapErr(err error, op, id string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusPreconditionFailed:
			return ErrVersionConflict
		}
	}
	return eris.Wrapf(err, "session: gcs %s %s/%s", op, g.bucket, id)
}
