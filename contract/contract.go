//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"reflect"
)

// Fields is the content of one document.
// Supported values: nil, string, bool, numbers, time.Time, ServerTimestamp,
// []any, []map[string]any, map[string]any.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store clock when the document is written.
var ServerTimestamp = serverTimestamp{}

// DocumentSnapshot is the state of one document at a point in time.
type DocumentSnapshot struct {
	Path   string
	ID     string
	Exists bool
	Fields Fields
}

// QuerySnapshot holds every document of a collection,
// ordered ascending by the store-assigned append timestamp.
// Added lists the documents appended since the previous snapshot of the same
// watch; in the first snapshot it is the whole collection. Appended documents
// are immutable: a watch reads each of them once.
type QuerySnapshot struct {
	Path  string
	Docs  []DocumentSnapshot
	Added []DocumentSnapshot
}

// Unsubscribe stops a watch. It is safe to call more than once.
type Unsubscribe func()

// DocumentStore is a key-path-addressed store with atomic array mutation
// and streaming snapshots. Document paths have an even number of segments
// ("rooms/042913"), collection paths an odd one ("rooms/042913/messages").
type DocumentStore interface {
	// Get returns a snapshot with Exists=false when the document is absent.
	Get(ctx context.Context, path string) (DocumentSnapshot, error)
	// Set replaces the document, or merges top-level fields when merge is true.
	Set(ctx context.Context, path string, fields Fields, merge bool) error
	// Create writes the document only if it does not exist yet.
	Create(ctx context.Context, path string, fields Fields) error
	// ArrayUnion adds each element not already present in the array field.
	ArrayUnion(ctx context.Context, path, field string, elements ...any) error
	// ArrayRemove removes every occurrence of each element from the array field.
	ArrayRemove(ctx context.Context, path, field string, elements ...any) error
	// Add appends a document with a generated id to a collection.
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	// WatchDocument delivers the current snapshot, then one per change.
	WatchDocument(ctx context.Context, path string, onNext func(DocumentSnapshot), onError func(error)) (Unsubscribe, error)
	// WatchCollection delivers the ordered collection, then one snapshot per append.
	WatchCollection(ctx context.Context, collection string, onNext func(QuerySnapshot), onError func(error)) (Unsubscribe, error)
	Close() error
}

// IdentityProvider resolves who is behind an AuthSession.
type IdentityProvider interface {
	Resolve(ctx context.Context, session domain.AuthSession) (domain.Identity, error)
}

type IPresenceManager interface {
	Join(ctx context.Context, roomID domain.RoomID, member domain.Member) error
	Leave(ctx context.Context, roomID domain.RoomID, member domain.Member) error
	SubscribeMembers(ctx context.Context, roomID domain.RoomID,
		onUpdate func([]domain.Member), onError func(error)) (Unsubscribe, error)
}

type IMessageStream interface {
	Send(ctx context.Context, roomID domain.RoomID, text, senderID, senderName string) error
	Subscribe(ctx context.Context, roomID domain.RoomID,
		onEvent func(domain.Message), onError func(error)) (Unsubscribe, error)
}

// IUserDirectory reads and writes users/{uid} profiles.
type IUserDirectory interface {
	DisplayName(ctx context.Context, uid string) (string, error)
	Register(ctx context.Context, identity domain.Identity) (domain.User, error)
	ResolveMember(ctx context.Context, identity domain.Identity) (domain.Member, error)
}

type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
