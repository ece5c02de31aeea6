package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-webpush-broadcaster/pkg/dispatch"
)

// FirestoreStore implements dispatch.KVStore using Google Cloud Firestore.
//
// Layout:
//
//	{root}_values/{sha256(key)}                      -> valueRecord
//	{root}_sets/{sha256(set)}/members/{sha256(member)} -> memberRecord
type FirestoreStore struct {
	client *firestore.Client
	root   string
}

// NewFirestoreStore creates the store; root prefixes the top-level collections.
func NewFirestoreStore(client *firestore.Client, root string) *FirestoreStore {
	if root == "" {
		root = "webpush"
	}
	return &FirestoreStore{client: client, root: root}
}

// valueRecord is the internal DB representation of a value.
type valueRecord struct {
	Key       string    `firestore:"key"`
	Value     []byte    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type memberRecord struct {
	Member  string    `firestore:"member"`
	AddedAt time.Time `firestore:"added_at"`
}

func (s *FirestoreStore) Get(ctx context.Context, key string) ([]byte, error) {
	doc, err := s.valueRef(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore get %q: %w", key, err)
	}
	var record valueRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("%w: firestore decode %q: %v", dispatch.ErrCorruptRecord, key, err)
	}
	return record.Value, nil
}

func (s *FirestoreStore) Set(ctx context.Context, key string, value []byte) error {
	record := valueRecord{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	if _, err := s.valueRef(key).Set(ctx, record); err != nil {
		return fmt.Errorf("firestore set %q: %w", key, err)
	}
	return nil
}

// Del is idempotent: Firestore deletes of missing documents succeed.
func (s *FirestoreStore) Del(ctx context.Context, key string) error {
	if _, err := s.valueRef(key).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete %q: %w", key, err)
	}
	return nil
}

func (s *FirestoreStore) SAdd(ctx context.Context, set, member string) error {
	record := memberRecord{Member: member, AddedAt: time.Now()}
	if _, err := s.membersCollection(set).Doc(hashKey(member)).Set(ctx, record); err != nil {
		return fmt.Errorf("firestore sadd %q: %w", set, err)
	}
	return nil
}

func (s *FirestoreStore) SRem(ctx context.Context, set, member string) error {
	if _, err := s.membersCollection(set).Doc(hashKey(member)).Delete(ctx); err != nil {
		return fmt.Errorf("firestore srem %q: %w", set, err)
	}
	return nil
}

func (s *FirestoreStore) SMembers(ctx context.Context, set string) ([]string, error) {
	iter := s.membersCollection(set).Documents(ctx)
	defer iter.Stop()

	members := make([]string, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record memberRecord
		if err := doc.DataTo(&record); err != nil || record.Member == "" {
			// Corrupt index rows carry no endpoint to report; skip them.
			continue
		}
		members = append(members, record.Member)
	}
	return members, nil
}

// --- Helpers ---

// Document IDs are hashes: endpoints are URLs and contain '/', which
// Firestore does not allow in IDs. Hashing also avoids hot-spotting.
func (s *FirestoreStore) valueRef(key string) *firestore.DocumentRef {
	return s.client.Collection(s.root + "_values").Doc(hashKey(key))
}

func (s *FirestoreStore) membersCollection(set string) *firestore.CollectionRef {
	return s.client.Collection(s.root + "_sets").Doc(hashKey(set)).Collection("members")
}

func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}
