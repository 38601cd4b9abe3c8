package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ObjectStore keeps generated WAV files in a JetStream object store bucket.
type ObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// NewObjectStore creates bucket, or binds to it when it already exists.
func NewObjectStore(js nats.JetStreamContext, bucket string) (*ObjectStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Generated audio.",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("create object store bucket %q: %w", bucket, err)
		}
		store, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("bind object store bucket %q: %w", bucket, err)
		}
	}
	return &ObjectStore{bucket: bucket, store: store}, nil
}

// Upload stores data under key.
func (s *ObjectStore) Upload(_ context.Context, key string, data []byte) error {
	_, err := s.store.Put(&nats.ObjectMeta{
		Name:    key,
		Headers: nats.Header{"Content-Type": []string{"audio/wav"}},
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put %q to bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

// Download returns the object stored under key.
func (s *ObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("get %q from bucket %q: %w", key, s.bucket, err)
	}
	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read %q: %w", key, readErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("close %q: %w", key, closeErr)
	}
	return data, nil
}
