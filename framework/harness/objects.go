package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/launchdarkly/test-engine/servicedef"
)

// ErrNoSuchObject means an ObjectCall or event named an object ID that was never exported, or
// that has been removed.
var ErrNoSuchObject = errors.New("no such object")

// ErrUnknownMethod is returned by a servant for a method name it does not implement.
var ErrUnknownMethod = errors.New("unknown method")

// Servant is the real object behind an exported object ID. Payloads are XML documents as
// produced by servicedef.EncodePayload.
type Servant interface {
	HandleCall(ctx context.Context, method string, payload string) (string, error)
}

// EventReceiver is a servant that also accepts the LogEvent and Statistics commands addressed to
// it.
type EventReceiver interface {
	Servant
	ReceiveEvent(ctx context.Context, event servicedef.Command) error
}

// ObjectRef identifies an exported object across the whole process.
type ObjectRef struct {
	ConnectionID int64
	ObjectID     servicedef.ObjectID
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%d:%d", r.ConnectionID, r.ObjectID)
}

// ObjectRegistry holds the servants exported on one connection. A servant is assigned an ID the
// first time it is exported, and keeps it.
type ObjectRegistry struct {
	lastID   servicedef.ObjectID
	servants map[servicedef.ObjectID]Servant
	ids      map[Servant]servicedef.ObjectID
	lock     sync.Mutex
}

func NewObjectRegistry() *ObjectRegistry {
	return &ObjectRegistry{
		servants: make(map[servicedef.ObjectID]Servant),
		ids:      make(map[Servant]servicedef.ObjectID),
	}
}

// Export returns the object ID of the servant, allocating one if the servant has not been
// exported before. The servant must be comparable; in practice it is a pointer.
func (r *ObjectRegistry) Export(servant Servant) servicedef.ObjectID {
	r.lock.Lock()
	defer r.lock.Unlock()
	if id, ok := r.ids[servant]; ok {
		return id
	}
	r.lastID++
	r.servants[r.lastID] = servant
	r.ids[servant] = r.lastID
	return r.lastID
}

func (r *ObjectRegistry) Lookup(id servicedef.ObjectID) (Servant, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.servants[id]
	return s, ok
}

// Remove withdraws an exported object. Later calls to it fail with ErrNoSuchObject.
func (r *ObjectRegistry) Remove(id servicedef.ObjectID) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if s, ok := r.servants[id]; ok {
		delete(r.servants, id)
		delete(r.ids, s)
	}
}

func (r *ObjectRegistry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.servants)
}

// ObjectProxy is a stub for an object exported by the peer. It holds nothing but the reference.
type ObjectProxy struct {
	conn *Connection
	Ref  ObjectRef
}

// Call invokes a method of the remote object and returns its result payload.
func (p ObjectProxy) Call(ctx context.Context, method string, payload string) (string, error) {
	resp, err := p.conn.Call(ctx, &servicedef.ObjectCall{Object: p.Ref.ObjectID, Method: method, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("calling %s on object %s: %w", method, p.Ref, err)
	}
	return resp.Payload, nil
}

// Connection returns the connection that the proxy sends its calls over.
func (p ObjectProxy) Connection() *Connection { return p.conn }
