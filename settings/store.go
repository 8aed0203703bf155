package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists a settings bag. Save replaces the stored bag entirely: keys that are not in the
// saved bag are removed.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// OpenStore selects a store from a location string:
//
//	redis://host:port/db?key=name   a Redis hash (key defaults to "test-engine:settings")
//	consul://host:port/prefix       Consul keys under prefix
//	dynamodb://table/namespace      a DynamoDB table; ?endpoint=URL overrides the endpoint
//	anything else                   an XML file path
func OpenStore(location string) (Store, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		if err == nil && u.Scheme == "file" {
			return FileStore{Path: u.Path}, nil
		}
		return FileStore{Path: location}, nil
	}
	switch u.Scheme {
	case "redis", "rediss":
		key := u.Query().Get("key")
		if key == "" {
			key = "test-engine:settings"
		}
		u.RawQuery = ""
		return NewRedisStore(u.String(), key)
	case "consul":
		return NewConsulStore(u.Host, strings.TrimPrefix(u.Path, "/"))
	case "dynamodb":
		return NewDynamoDBStore(u.Host, strings.TrimPrefix(u.Path, "/"), u.Query().Get("endpoint"))
	default:
		return nil, fmt.Errorf("unsupported settings store %q", u.Scheme)
	}
}

// FileStore keeps the bag in an XML file. A missing file loads as an empty bag.
type FileStore struct {
	Path string
}

func (f FileStore) Load(context.Context) (Settings, error) {
	s, err := LoadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	return s, err
}

func (f FileStore) Save(_ context.Context, s Settings) error {
	var buf bytes.Buffer
	if err := Write(&buf, s); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil { //nolint:gosec
		return err
	}
	return os.Rename(tmp, f.Path)
}

// Shared is a settings bag that can be read and updated from several goroutines, such as the
// handler of SyncConfiguration and running tests.
type Shared struct {
	current Settings
	lock    sync.RWMutex
}

func NewShared(initial Settings) *Shared {
	return &Shared{current: initial}
}

// Current returns a snapshot of the bag.
func (s *Shared) Current() Settings {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return Settings{values: s.current.Map()}
}

func (s *Shared) Get(key string) (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.current.Get(key)
}

// Merge overlays other onto the bag and returns the result.
func (s *Shared) Merge(other Settings) Settings {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.current = s.current.Merge(other)
	return Settings{values: s.current.Map()}
}
