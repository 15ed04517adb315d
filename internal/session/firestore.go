package session

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreDoc holds the JSON document as a single string field. Website
// keys contain dots and slashes, which Firestore field paths reject.
type firestoreDoc struct {
	Payload string `firestore:"payload"`
}

// FirestoreStore keeps one Firestore document per session. The document's
// update time acts as its version.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore connects to Firestore in project.
func NewFirestoreStore(ctx context.Context, project, collection string, opts ...option.ClientOption) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "session: create firestore client")
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

// Close releases the client.
func (f *FirestoreStore) Close() error {
	return f.client.Close()
}

func (f *FirestoreStore) ref(id string) *firestore.DocumentRef {
	return f.client.Collection(f.collection).Doc(id)
}

// Read implements Store.
func (f *FirestoreStore) Read(ctx context.Context, id string) (Document, error) {
	doc, _, err := f.ReadVersion(ctx, id)
	return doc, err
}

// ReadVersion implements VersionedStore.
func (f *FirestoreStore) ReadVersion(ctx context.Context, id string) (Document, Version, error) {
	snap, err := f.ref(id).Get(ctx)
	if err != nil {
		return nil, NoVersion, mapFirestoreErr(err, "get", id)
	}
	var fd firestoreDoc
	if err := snap.DataTo(&fd); err != nil {
		return nil, NoVersion, eris.Wrapf(err, "session: firestore decode %s", id)
	}
	doc, err := decode([]byte(fd.Payload))
	if err != nil {
		return nil, NoVersion, err
	}
	return doc, Version(snap.UpdateTime.UTC().Format(time.RFC3339Nano)), nil
}

// Write implements Store.
func (f *FirestoreStore) Write(ctx context.Context, id string, doc Document) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = f.ref(id).Set(ctx, firestoreDoc{Payload: string(body)})
	return mapFirestoreErr(err, "set", id)
}

// WriteVersion implements VersionedStore. NoVersion creates the document;
// any other version updates it under a last-update-time precondition.
func (f *FirestoreStore) WriteVersion(ctx context.Context, id string, doc Document, expected Version) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	if expected == NoVersion {
		_, err = f.ref(id).Create(ctx, firestoreDoc{Payload: string(body)})
		return mapFirestoreErr(err, "create", id)
	}
	at, err := time.Parse(time.RFC3339Nano, string(expected))
	if err != nil {
		return eris.Wrapf(err, "session: firestore version %q", expected)
	}
	_, err = f.ref(id).Update(ctx,
		[]firestore.Update{{Path: "payload", Value: string(body)}},
		firestore.LastUpdateTime(at),
	)
	return mapFirestoreErr(err, "update", id)
}

// Exists implements Store.
func (f *FirestoreStore) Exists(ctx context.Context, id string) (bool, error) {
	_, err := f.ref(id).Get(ctx)
	if err == nil {
		return true, nil
	}
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	return false, mapFirestoreErr(err, "get", id)
}

func mapFirestoreErr(err error, op, id string) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return ErrVersionConflict
	}
	return eris.Wrapf(err, "session: firestore %s %s", op, id)
}
