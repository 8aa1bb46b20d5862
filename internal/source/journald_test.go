package source

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeRunner struct {
	out  string
	err  error
	name string
	args []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.name = name
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.out), nil
}

func TestJournaldTail(t *testing.T) {
	runner := &fakeRunner{out: "first\nsecond\n\nthird\n"}
	j := NewJournald("", "geth", runner)

	lines, err := j.Tail(context.Background(), 150)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	if want := []string{"first", "second", "third"}; !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
	if runner.name != "journalctl" {
		t.Errorf("command = %q, want journalctl", runner.name)
	}
	wantArgs := []string{"-u", "geth", "-n", "150", "--output=cat", "--no-pager"}
	if !reflect.DeepEqual(runner.args, wantArgs) {
		t.Errorf("args = %q, want %q", runner.args, wantArgs)
	}
}

func TestJournaldTailEmptyJournal(t *testing.T) {
	j := NewJournald("journalctl", "prysm", &fakeRunner{out: "-- No entries --\n"})

	lines, err := j.Tail(context.Background(), 100)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("lines = %q, want none", lines)
	}
}

func TestJournaldTailError(t *testing.T) {
	j := NewJournald("journalctl", "geth", &fakeRunner{err: errors.New("exit status 1")})

	if _, err := j.Tail(context.Background(), 10); err == nil {
		t.Error("expected the runner error")
	}
}

func TestExecRunnerMissingCommand(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "nodewatch-command-that-does-not-exist")
	if err == nil {
		t.Error("expected an error for a missing command")
	}
}
