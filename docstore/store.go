// Package docstore keeps ledger records in a Firestore collection, one
// document per address.
package docstore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"poll-ledger-backend/config"
	"poll-ledger-backend/ledger"
)

// Open initializes a Firebase app and returns its Firestore client. Without a
// credentials file the application default credentials are used, which also
// covers FIRESTORE_EMULATOR_HOST.
func Open(ctx context.Context, cfg config.Firestore) (*firestore.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "firebase app")
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firestore client")
	}
	return client, nil
}

type document struct {
	Kind      string    `firestore:"kind"`
	Data      []byte    `firestore:"data"`
	Version   int64     `firestore:"version"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type Store struct {
	client     *firestore.Client
	collection string
}

func NewStore(client *firestore.Client, collection string) *Store {
	return &Store{client: client, collection: collection}
}

func (s *Store) doc(addr ledger.Address) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(addr.String())
}

// Update runs fn inside a Firestore transaction. Firestore requires every
// read to precede the first write, which the buffered Tx guarantees.
func (s *Store) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		btx := ledger.NewBufferedTx(s.fetcher(ftx), false)
		if err := fn(btx); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, w := range btx.Writes() {
			d := document{Kind: w.Entry.Kind, Data: w.Entry.Data, Version: w.Entry.Version, UpdatedAt: now}
			var err error
			if w.Prev == 0 {
				err = ftx.Create(s.doc(w.Addr), d)
			} else {
				err = ftx.Set(s.doc(w.Addr), d)
			}
			if err != nil {
				return errors.Wrapf(err, "write %s", w.Addr)
			}
		}
		return nil
	})
}

func (s *Store) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		return fn(ledger.NewBufferedTx(s.fetcher(ftx), true))
	}, firestore.ReadOnly)
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Collection(s.collection).Limit(1).Documents(ctx).Next()
	if err == iterator.Done {
		return nil
	}
	return errors.WithStack(err)
}

func (s *Store) fetcher(ftx *firestore.Transaction) ledger.FetchFunc {
	return func(addr ledger.Address) (ledger.Entry, bool, error) {
		snap, err := ftx.Get(s.doc(addr))
		if status.Code(err) == codes.NotFound {
			return ledger.Entry{}, false, nil
		}
		if err != nil {
			return ledger.Entry{}, false, errors.Wrapf(err, "get %s", addr)
		}
		var d document
		if err := snap.DataTo(&d); err != nil {
			return ledger.Entry{}, false, errors.Wrapf(err, "decode %s", addr)
		}
		return ledger.Entry{Kind: d.Kind, Data: d.Data, Version: d.Version}, true, nil
	}
}
