package storage

import (
	"testing"
)

func TestRegisterResourceIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.RegisterResource("notes", ResourceKindCollection); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := store.PutLocal("notes", `{"items":[{"id":1}],"updatedAt":5}`); err != nil {
		t.Fatalf("put local: %v", err)
	}
	if err := store.RegisterResource("notes", ResourceKindCollection); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	resource, err := store.GetResource("notes")
	if err != nil {
		t.Fatalf("get resource: %v", err)
	}
	if resource.Document == `{"items":[],"updatedAt":0}` {
		t.Fatalf("re-register should not reset the document")
	}
}

func TestPutLocalBumpsCollectionTimestamp(t *testing.T) {
	store := newTestStore(t)
	if err := store.RegisterResource("notes", ResourceKindCollection); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := store.PutLocal("notes", `{"items":[1],"updatedAt":1}`); err != nil {
		t.Fatalf("put local: %v", err)
	}
	first, _ := store.GetResource("notes")
	if first.UpdatedAt == 0 {
		t.Fatalf("collection mutation should set updatedAt")
	}

	if err := store.PutLocal("notes", `{"items":[1,2],"updatedAt":2}`); err != nil {
		t.Fatalf("put local: %v", err)
	}
	second, _ := store.GetResource("notes")
	if second.UpdatedAt < first.UpdatedAt {
		t.Fatalf("updatedAt regressed: %d -> %d", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestPutLocalTimestampNeverRegressesPastRemote(t *testing.T) {
	store := newTestStore(t)
	if err := store.RegisterResource("notes", ResourceKindCollection); err != nil {
		t.Fatalf("register: %v", err)
	}

	// A remote apply far in the future must not be undercut by a local write.
	future := nowUnixMilli() + 60_000
	if err := store.ApplyRemote("notes", `{"items":[9],"updatedAt":9}`, future); err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	if err := store.PutLocal("notes", `{"items":[10],"updatedAt":10}`); err != nil {
		t.Fatalf("put local: %v", err)
	}

	resource, _ := store.GetResource("notes")
	if resource.UpdatedAt < future {
		t.Fatalf("updatedAt regressed below remote value: %d < %d", resource.UpdatedAt, future)
	}
}

func TestFlatResourceCarriesNoTimestamp(t *testing.T) {
	store := newTestStore(t)
	if err := store.RegisterResource("settings", ResourceKindFlat); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := store.PutLocal("settings", `{"theme":"dark"}`); err != nil {
		t.Fatalf("put local: %v", err)
	}
	resource, _ := store.GetResource("settings")
	if resource.UpdatedAt != 0 {
		t.Fatalf("flat resources should not carry a timestamp, got %d", resource.UpdatedAt)
	}
}

func TestMutationHookFiresOnLocalWriteOnly(t *testing.T) {
	store := newTestStore(t)
	if err := store.RegisterResource("notes", ResourceKindCollection); err != nil {
		t.Fatalf("register: %v", err)
	}

	var fired []string
	store.SetMutationHook(func(resource string) {
		fired = append(fired, resource)
	})

	if err := store.PutLocal("notes", `{"items":[1],"updatedAt":1}`); err != nil {
		t.Fatalf("put local: %v", err)
	}
	if len(fired) != 1 || fired[0] != "notes" {
		t.Fatalf("expected one hook firing for notes, got %v", fired)
	}

	if err := store.ApplyRemote("notes", `{"items":[2],"updatedAt":2}`, nowUnixMilli()); err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("remote apply must not fire the mutation hook")
	}
}

func TestPutLocalUnregisteredResource(t *testing.T) {
	store := newTestStore(t)

	if err := store.PutLocal("missing", `{}`); err == nil {
		t.Fatalf("expected error for unregistered resource")
	}
	if err := store.ApplyRemote("missing", `{}`, 1); err == nil {
		t.Fatalf("expected error for unregistered resource")
	}
}
