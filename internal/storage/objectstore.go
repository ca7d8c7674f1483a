// Package storage keeps product images in an object store and serves them
// back by name.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var ErrNotFound = errors.New("object not found")

type Object struct {
	Name        string
	ContentType string
	Data        []byte
}

type ObjectStore interface {
	Put(ctx context.Context, obj Object) error
	Get(ctx context.Context, name string) (Object, error)
}

// JetStreamStore is an ObjectStore backed by a NATS JetStream object bucket.
type JetStreamStore struct {
	conn  *nats.Conn
	store jetstream.ObjectStore
}

// OpenJetStream connects to url and opens bucket, creating it if missing.
func OpenJetStream(ctx context.Context, url, bucket string) (*JetStreamStore, error) {
	conn, err := nats.Connect(url, nats.Name("storefront-images"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	store, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "product images",
		})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("object store %q: %w", bucket, err)
	}
	return &JetStreamStore{conn: conn, store: store}, nil
}

func (s *JetStreamStore) Put(ctx context.Context, obj Object) error {
	meta := jetstream.ObjectMeta{
		Name:    obj.Name,
		Headers: nats.Header{"Content-Type": []string{obj.ContentType}},
	}
	if _, err := s.store.Put(ctx, meta, bytes.NewReader(obj.Data)); err != nil {
		return fmt.Errorf("put %s: %w", obj.Name, err)
	}
	return nil
}

func (s *JetStreamStore) Get(ctx context.Context, name string) (Object, error) {
	res, err := s.store.Get(ctx, name)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, fmt.Errorf("get %s: %w", name, err)
	}
	defer res.Close()

	data, err := io.ReadAll(res)
	if err != nil {
		return Object{}, fmt.Errorf("read %s: %w", name, err)
	}
	obj := Object{Name: name, Data: data, ContentType: "application/octet-stream"}
	if info, err := res.Info(); err == nil && info.Headers != nil {
		if ct := info.Headers.Get("Content-Type"); ct != "" {
			obj.ContentType = ct
		}
	}
	return obj, nil
}

func (s *JetStreamStore) Close() {
	s.conn.Close()
}
