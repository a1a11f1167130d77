package terminal

import (
	"context"
	"testing"
	"time"
)

type fakeSession struct{ id string }

func (f *fakeSession) ID() string                                   { return f.id }
func (f *fakeSession) Kind() PTYKind                                 { return PTYKindLocal }
func (f *fakeSession) Write(ctx context.Context, data []byte) error  { return nil }
func (f *fakeSession) ReadBuffer(lastN int) []string                 { return nil }
func (f *fakeSession) LastOutputAge() time.Duration                  { return 0 }
func (f *fakeSession) Resize(cols, rows int) error                   { return nil }
func (f *fakeSession) ShellKind() string                             { return "bash" }
func (f *fakeSession) Close() error                                  { return nil }

func TestRegistryAddAsAliasesLookupKey(t *testing.T) {
	reg := NewRegistry()
	real := &fakeSession{id: "host-7"}
	reg.AddAs("default", real)

	got, ok := reg.Get("default")
	if !ok {
		t.Fatal("expected session registered under alias \"default\"")
	}
	if got.ID() != "host-7" {
		t.Errorf("aliased session ID = %s, want host-7", got.ID())
	}

	if _, ok := reg.Get("host-7"); ok {
		t.Error("session should not be reachable under its own ID when added via AddAs")
	}
}

func TestRegistryBindExclusive(t *testing.T) {
	reg := NewRegistry()
	reg.Add(&fakeSession{id: "t1"})

	if err := reg.Bind("t1", "run-a"); err != nil {
		t.Fatalf("Bind run-a: %v", err)
	}
	if err := reg.Bind("t1", "run-b"); err == nil {
		t.Error("expected Bind to reject a second owner while run-a still holds t1")
	}

	reg.Unbind("t1", "run-a")
	if err := reg.Bind("t1", "run-b"); err != nil {
		t.Fatalf("Bind run-b after release: %v", err)
	}
}
