package jetstream

import (
	"context"
	"testing"

	"github.com/crossbench-org/crossbench-go/internal/actions"
)

type fakeHost struct {
	labels []string
}

func (f *fakeHost) Action(ctx context.Context, label string, fn func(context.Context, *actions.Actions) error) error {
	f.labels = append(f.labels, label)
	return nil
}

func TestRunDrivesExpectedActionSequence(t *testing.T) {
	s := New("https://example.test/jetstream")
	h := &fakeHost{}

	if err := s.Run(context.Background(), h); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := []string{
		"jetstream.navigate",
		"jetstream.wait_ready",
		"jetstream.start",
		"jetstream.wait_done",
		"jetstream.score",
	}
	if len(h.labels) != len(want) {
		t.Fatalf("expected %d actions, got %d: %v", len(want), len(h.labels), h.labels)
	}
	for i, label := range want {
		if h.labels[i] != label {
			t.Errorf("action %d: expected %q, got %q", i, label, h.labels[i])
		}
	}
}
