package idempotency

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/quickprint/api/internal/platform/firestore"
)

const (
	defaultCollection   = "idempotencyKeys"
	defaultCleanupLimit = 200
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store idempotency keys.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithCleanupLimit caps how many expired records one cleanup pass deletes.
func WithCleanupLimit(limit int) FirestoreOption {
	return func(store *FirestoreStore) {
		if limit > 0 {
			store.cleanupLimit = limit
		}
	}
}

// FirestoreStore shares reservations between API instances. Keys arrive already hashed by Middleware.
type FirestoreStore struct {
	provider     *pfirestore.Provider
	collection   string
	cleanupLimit int
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		provider:     provider,
		collection:   defaultCollection,
		cleanupLimit: defaultCleanupLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type firestoreRecord struct {
	Fingerprint     string              `firestore:"fingerprint"`
	Completed       bool                `firestore:"completed"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func (r firestoreRecord) toRecord(key string) Record {
	return Record{
		Key:         key,
		Fingerprint: r.Fingerprint,
		Completed:   r.Completed,
		Response: Response{
			Status:  r.ResponseStatus,
			Headers: http.Header(r.ResponseHeaders),
			Body:    r.ResponseBody,
		},
		ExpiresAt: r.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.Client, *firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Collection(s.collection).Doc(key), nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	client, ref, err := s.doc(ctx, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		fresh := firestoreRecord{Fingerprint: fingerprint, UpdatedAt: now, ExpiresAt: now.Add(ttl)}

		snap, err := tx.Get(ref)
		if err != nil {
			if !pfirestore.IsNotFoundStatus(err) {
				return err
			}
			result = Reservation{State: ReservationStateNew, Record: fresh.toRecord(key)}
			return tx.Set(ref, fresh)
		}

		var record firestoreRecord
		if err := snap.DataTo(&record); err != nil {
			return err
		}
		if !now.Before(record.ExpiresAt) {
			result = Reservation{State: ReservationStateNew, Record: fresh.toRecord(key)}
			return tx.Set(ref, fresh)
		}
		if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		if record.Completed {
			result = Reservation{State: ReservationStateCompleted, Record: record.toRecord(key)}
			return nil
		}
		result = Reservation{State: ReservationStatePending, Record: record.toRecord(key)}
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return result, nil
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	client, ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}

	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && !pfirestore.IsNotFoundStatus(err) {
			return err
		}
		if err == nil {
			var existing firestoreRecord
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}
		return tx.Set(ref, firestoreRecord{
			Fingerprint:     fingerprint,
			Completed:       true,
			ResponseStatus:  resp.Status,
			ResponseHeaders: replayableHeaders(resp.Headers),
			ResponseBody:    append([]byte(nil), resp.Body...),
			UpdatedAt:       now,
			ExpiresAt:       now.Add(ttl),
		})
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	client, ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if pfirestore.IsNotFoundStatus(err) {
				return nil
			}
			return err
		}
		var record firestoreRecord
		if err := snap.DataTo(&record); err != nil {
			return err
		}
		if record.Fingerprint != fingerprint {
			return nil
		}
		return tx.Delete(ref)
	})
}

// CleanupExpired deletes at most the configured limit of expired records per call.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(s.cleanupLimit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	bw := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, err
		}
	}
	bw.End()
	return len(docs), nil
}
