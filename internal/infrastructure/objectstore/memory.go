package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	body        []byte
	contentType string
	modified    time.Time
}

// MemoryStore is an in-process Store for development and tests
type MemoryStore struct {
	mu      sync.RWMutex
	host    string
	objects map[string]memoryObject
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(host string) *MemoryStore {
	return &MemoryStore{
		host:    host,
		objects: map[string]memoryObject{},
	}
}

func (s *MemoryStore) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{
		body:        append([]byte(nil), body...),
		contentType: contentType,
		modified:    time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) PutObjectIfAbsent(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok {
		return ErrObjectExists
	}
	s.objects[key] = memoryObject{
		body:        append([]byte(nil), body...),
		contentType: contentType,
		modified:    time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) UploadStream(ctx context.Context, key string, r io.Reader, contentType string) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return s.PutObject(ctx, key, body, contentType)
}

func (s *MemoryStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.body)), nil
}

func (s *MemoryStore) HeadObject(_ context.Context, key string) (*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	sum := md5.Sum(obj.body)
	return &ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.body)),
		ContentType:  obj.contentType,
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: obj.modified,
	}, nil
}

func (s *MemoryStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", ErrObjectNotFound
	}
	return s.signedURL("GET", key, ttl), nil
}

func (s *MemoryStore) PresignPut(_ context.Context, key, _ string, ttl time.Duration) (string, error) {
	return s.signedURL("PUT", key, ttl), nil
}

func (s *MemoryStore) signedURL(method, key string, ttl time.Duration) string {
	exp := time.Now().UTC().Add(clampTTL(ttl)).Format(time.RFC3339)
	u := url.URL{
		Scheme:   "https",
		Host:     s.host,
		Path:     "/" + key,
		RawQuery: url.Values{"method": {method}, "exp": {exp}}.Encode(),
	}
	return u.String()
}

// Keys lists stored keys with the given prefix, sorted
func (s *MemoryStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Overwrite replaces an object unconditionally, simulating out-of-band tampering in tests
func (s *MemoryStore) Overwrite(key string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.objects[key]
	obj.body = append([]byte(nil), body...)
	obj.modified = time.Now().UTC()
	s.objects[key] = obj
}
