package syncer

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"lanlink/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func mustRegister(t *testing.T, store *storage.Store, name, kind string) {
	t.Helper()
	if err := store.RegisterResource(name, kind); err != nil {
		t.Fatalf("register resource %q: %v", name, err)
	}
}

func mustPutLocal(t *testing.T, store *storage.Store, name, document string) {
	t.Helper()
	if err := store.PutLocal(name, document); err != nil {
		t.Fatalf("put local %q: %v", name, err)
	}
}

func mustGetResource(t *testing.T, store *storage.Store, name string) storage.Resource {
	t.Helper()
	resource, err := store.GetResource(name)
	if err != nil {
		t.Fatalf("get resource %q: %v", name, err)
	}
	if resource == nil {
		t.Fatalf("resource %q not found", name)
	}
	return *resource
}

// fakeRemote is an in-memory Remote double that records traffic and can
// inject failures per call site.
type fakeRemote struct {
	mu sync.Mutex

	resources map[string]fakeResource

	metaErr error
	pullErr error
	pushErr error

	// onPull, if set, runs at the start of every Pull.
	onPull func()

	rejectPush bool
	pushReason string
	pushes     []fakePush
	pullCount  int
	metaCount  int
}

type fakeResource struct {
	kind      string
	document  string
	updatedAt int64
}

type fakePush struct {
	name      string
	document  string
	updatedAt int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{resources: make(map[string]fakeResource)}
}

func (f *fakeRemote) set(name, kind, document string, updatedAt int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[name] = fakeResource{kind: kind, document: document, updatedAt: updatedAt}
}

func (f *fakeRemote) Meta(_ context.Context, name string) (Metadata, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.metaCount++
	if f.metaErr != nil {
		return Metadata{}, false, f.metaErr
	}

	resource, ok := f.resources[name]
	if !ok {
		return Metadata{}, false, nil
	}
	if resource.kind == storage.ResourceKindCollection {
		return Metadata{Kind: resource.kind, UpdatedAt: resource.updatedAt}, true, nil
	}
	return Metadata{Kind: resource.kind, Fingerprint: Fingerprint(resource.document)}, true, nil
}

func (f *fakeRemote) Pull(_ context.Context, name string) (string, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.onPull != nil {
		f.onPull()
	}
	f.pullCount++
	if f.pullErr != nil {
		return "", 0, false, f.pullErr
	}

	resource, ok := f.resources[name]
	if !ok {
		return "", 0, false, nil
	}
	return resource.document, resource.updatedAt, true, nil
}

func (f *fakeRemote) Push(_ context.Context, name, document string, updatedAt int64) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pushErr != nil {
		return false, "", f.pushErr
	}

	f.pushes = append(f.pushes, fakePush{name: name, document: document, updatedAt: updatedAt})
	if f.rejectPush {
		return false, f.pushReason, nil
	}

	// Refuse stale collection pushes the way a live replica does, and
	// keep the snapshot itself frozen so pull assertions stay exact.
	existing, ok := f.resources[name]
	if ok && existing.kind == storage.ResourceKindCollection && updatedAt < existing.updatedAt {
		return false, "stale push", nil
	}
	return true, "", nil
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeRemote) lastPush(t *testing.T) fakePush {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushes) == 0 {
		t.Fatal("no pushes recorded")
	}
	return f.pushes[len(f.pushes)-1]
}

// logRecorder is a slog.Handler that keeps record messages for assertions.
type logRecorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *logRecorder) Handle(_ context.Context, record slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, record.Message)
	return nil
}

func (r *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *logRecorder) WithGroup(string) slog.Handler      { return r }

func (r *logRecorder) has(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, recorded := range r.messages {
		if recorded == message {
			return true
		}
	}
	return false
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s: %s", timeout, message)
}
