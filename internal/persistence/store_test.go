package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aristath/specrunner/internal/scheduler"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	in := scheduler.Task{
		ID:           "TASK-1",
		Title:        "Set up schema",
		Description:  "Create the tables",
		Status:       scheduler.StatusToDo,
		Dependencies: []string{"TASK-0", "task-9"},
		Ordinal:      3,
		Priority:     "high",
	}
	if err := store.SaveTask(ctx, in); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	got, found, err := store.GetSpec(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetSpec failed: %v", err)
	}
	if !found {
		t.Fatal("expected task to be found with case-insensitive id")
	}
	if got.ID != "TASK-1" || got.Title != in.Title || got.Description != in.Description {
		t.Errorf("unexpected task: %+v", got)
	}
	if got.Ordinal != 3 || got.Priority != "high" || got.Status != scheduler.StatusToDo {
		t.Errorf("unexpected fields: %+v", got)
	}
	if len(got.Dependencies) != 2 || got.Dependencies[0] != "TASK-0" || got.Dependencies[1] != "task-9" {
		t.Errorf("dependencies = %v, want [TASK-0 task-9]", got.Dependencies)
	}
}

func TestGetSpecNotFound(t *testing.T) {
	store := testStore(t)

	_, found, err := store.GetSpec(context.Background(), "TASK-404")
	if err != nil {
		t.Fatalf("GetSpec failed: %v", err)
	}
	if found {
		t.Error("expected missing task to report found=false")
	}
}

func TestSaveTaskDefaultsStatus(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveTask(ctx, scheduler.Task{ID: "TASK-1"}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	got, _, err := store.GetSpec(ctx, "TASK-1")
	if err != nil {
		t.Fatalf("GetSpec failed: %v", err)
	}
	if got.Status != scheduler.StatusToDo {
		t.Errorf("status = %q, want %q", got.Status, scheduler.StatusToDo)
	}
}

func TestSaveTaskRejectsEmptyID(t *testing.T) {
	store := testStore(t)
	if err := store.SaveTask(context.Background(), scheduler.Task{ID: "  "}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestSaveTaskReplacesDependencies(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveTask(ctx, scheduler.Task{ID: "TASK-2", Dependencies: []string{"TASK-1"}}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	if err := store.SaveTask(ctx, scheduler.Task{ID: "TASK-2", Title: "renamed"}); err != nil {
		t.Fatalf("SaveTask (update) failed: %v", err)
	}

	got, _, err := store.GetSpec(ctx, "TASK-2")
	if err != nil {
		t.Fatalf("GetSpec failed: %v", err)
	}
	if got.Title != "renamed" {
		t.Errorf("title = %q, want renamed", got.Title)
	}
	if len(got.Dependencies) != 0 {
		t.Errorf("dependencies = %v, want none", got.Dependencies)
	}
}

func TestListSpecsOrdering(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	tasks := []scheduler.Task{
		{ID: "TASK-3"},
		{ID: "TASK-1", Ordinal: 2},
		{ID: "TASK-2", Ordinal: 1, Dependencies: []string{"TASK-1"}},
		{ID: "TASK-4", Dependencies: []string{"TASK-2", "TASK-3"}},
		{ID: "TASK-5", Ordinal: -1},
	}
	for _, task := range tasks {
		if err := store.SaveTask(ctx, task); err != nil {
			t.Fatalf("SaveTask(%s) failed: %v", task.ID, err)
		}
	}

	got, err := store.ListSpecs(ctx)
	if err != nil {
		t.Fatalf("ListSpecs failed: %v", err)
	}

	want := []string{"TASK-5", "TASK-2", "TASK-1", "TASK-3", "TASK-4"}
	if len(got) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}

	last := got[4]
	if len(last.Dependencies) != 2 || last.Dependencies[0] != "TASK-2" || last.Dependencies[1] != "TASK-3" {
		t.Errorf("TASK-4 dependencies = %v", last.Dependencies)
	}
}

func TestListSpecsEmpty(t *testing.T) {
	store := testStore(t)

	got, err := store.ListSpecs(context.Background())
	if err != nil {
		t.Fatalf("ListSpecs failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveTask(ctx, scheduler.Task{ID: "TASK-1"}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	if err := store.UpdateTaskStatus(ctx, "task-1", scheduler.StatusDone); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	got, _, err := store.GetSpec(ctx, "TASK-1")
	if err != nil {
		t.Fatalf("GetSpec failed: %v", err)
	}
	if !got.IsDone() {
		t.Errorf("status = %q, want Done", got.Status)
	}

	err = store.UpdateTaskStatus(ctx, "TASK-404", scheduler.StatusDone)
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveTask(ctx, scheduler.Task{ID: "TASK-1", Dependencies: []string{"TASK-0"}}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	if err := store.SaveMessage(ctx, "TASK-1", "user", "hello"); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if err := store.DeleteTask(ctx, "TASK-1"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	if _, found, _ := store.GetSpec(ctx, "TASK-1"); found {
		t.Error("task still present after delete")
	}
	history, err := store.GetHistory(ctx, "TASK-1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected history to be removed, got %d turns", len(history))
	}

	// Re-saving must not resurrect the old dependency rows.
	if err := store.SaveTask(ctx, scheduler.Task{ID: "TASK-1"}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	got, _, _ := store.GetSpec(ctx, "TASK-1")
	if len(got.Dependencies) != 0 {
		t.Errorf("dependencies = %v, want none", got.Dependencies)
	}

	if err := store.DeleteTask(ctx, "TASK-404"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestConversationHistory(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveTask(ctx, scheduler.Task{ID: "TASK-1"}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	turns := []struct{ role, content string }{
		{"user", "first"},
		{"assistant", "second"},
		{"user", "third"},
	}
	for _, turn := range turns {
		if err := store.SaveMessage(ctx, "TASK-1", turn.role, turn.content); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	history, err := store.GetHistory(ctx, "TASK-1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != len(turns) {
		t.Fatalf("got %d turns, want %d", len(history), len(turns))
	}
	for i, turn := range turns {
		if history[i].Role != turn.role || history[i].Content != turn.content {
			t.Errorf("turn %d = %+v, want %s/%s", i, history[i], turn.role, turn.content)
		}
	}
}

func TestSaveMessageUnknownTask(t *testing.T) {
	store := testStore(t)
	if err := store.SaveMessage(context.Background(), "TASK-404", "user", "x"); err == nil {
		t.Error("expected foreign key error for unknown task")
	}
}

func TestSubscribe(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	unsubscribe := store.Subscribe(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
	})

	if err := store.SaveTask(ctx, scheduler.Task{ID: "TASK-1"}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	if err := store.UpdateTaskStatus(ctx, "TASK-1", scheduler.StatusDone); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	unsubscribe()
	unsubscribe()

	if err := store.DeleteTask(ctx, "TASK-1"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "TASK-1" || seen[1] != "TASK-1" {
		t.Errorf("notifications = %v, want two for TASK-1", seen)
	}
}

func TestSubscriberMayReadStore(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	var status string
	store.Subscribe(func(id string) {
		task, _, err := store.GetSpec(ctx, id)
		if err == nil {
			status = task.Status
		}
	})

	if err := store.SaveTask(ctx, scheduler.Task{ID: "TASK-1", Status: "In Review"}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	if status != "In Review" {
		t.Errorf("subscriber saw status %q, want In Review", status)
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tasks.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.SaveTask(ctx, scheduler.Task{ID: "TASK-7", Title: "kept"}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, found, err := reopened.GetSpec(ctx, "TASK-7")
	if err != nil || !found {
		t.Fatalf("GetSpec after reopen: found=%v err=%v", found, err)
	}
	if got.Title != "kept" {
		t.Errorf("title = %q, want kept", got.Title)
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	ctx := context.Background()

	if err := a.SaveTask(ctx, scheduler.Task{ID: "TASK-1"}); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	if _, found, _ := b.GetSpec(ctx, "TASK-1"); found {
		t.Error("task leaked between memory stores")
	}
}
