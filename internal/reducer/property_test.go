package reducer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"nebula-chat/internal/model"
)

func eventGen() *rapid.Generator[model.Event] {
	return rapid.Custom(func(t *rapid.T) model.Event {
		switch rapid.IntRange(0, 4).Draw(t, "kind") {
		case 0:
			return model.Event{Type: model.EventInit, RequestID: rapid.SampledFrom([]string{"r1", "r2", "r3"}).Draw(t, "request")}
		case 1:
			return model.Event{Type: model.EventPresence, Text: rapid.String().Draw(t, "presence")}
		case 2:
			return model.Event{Type: model.EventAction, Action: txAction()}
		case 3:
			return model.Event{Type: model.EventImage, Image: &model.Image{URL: "https://img"}}
		default:
			return model.Event{Type: model.EventDelta, Text: rapid.String().Draw(t, "delta")}
		}
	})
}

func checkPresenceInvariant(t *rapid.T, s State) {
	for i, m := range s.Messages {
		if m.Kind == model.KindPresence && i != len(s.Messages)-1 {
			t.Fatalf("presence at %d of %d", i, len(s.Messages))
		}
	}
}

func TestPropertyPresenceOnlyAtTail(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		events := rapid.SliceOf(eventGen()).Draw(t, "events")
		s := State{}.AppendUser(model.TextContent("hi"))
		for _, ev := range events {
			s = s.Apply(ev)
			checkPresenceInvariant(t, s)
		}
		for _, m := range s.Finish().Messages {
			if m.Kind == model.KindPresence {
				t.Fatalf("presence survived Finish")
			}
		}
	})
}

func TestPropertyDeltasConcatenate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		deltas := rapid.SliceOfN(rapid.String(), 1, 20).Draw(t, "deltas")
		s := State{}.
			AppendUser(model.TextContent("hi")).
			Apply(model.Event{Type: model.EventInit, RequestID: "r1"})
		if rapid.Bool().Draw(t, "presence first") {
			s = s.Apply(model.Event{Type: model.EventPresence, Text: "Thinking"})
		}
		for _, d := range deltas {
			s = s.Apply(model.Event{Type: model.EventDelta, Text: d})
		}

		if len(s.Messages) != 2 {
			t.Fatalf("want user + assistant, got %d entries", len(s.Messages))
		}
		last := s.Messages[1]
		if last.Kind != model.KindAssistant || last.RequestID != "r1" {
			t.Fatalf("unexpected tail %+v", last)
		}
		if want := strings.Join(deltas, ""); last.Text != want {
			t.Fatalf("text %q, want %q", last.Text, want)
		}
	})
}

func TestPropertyActionGrowsLogByOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		events := rapid.SliceOf(eventGen()).Draw(t, "events")
		s := State{}
		for _, ev := range events {
			s = s.Apply(ev)
		}

		hadPresence := len(s.Messages) > 0 && s.Messages[len(s.Messages)-1].Kind == model.KindPresence
		next := s.Apply(model.Event{Type: model.EventAction, Action: txAction()})

		want := len(s.Messages) + 1
		if hadPresence {
			want = len(s.Messages)
		}
		if len(next.Messages) != want {
			t.Fatalf("len %d, want %d", len(next.Messages), want)
		}
		if next.Messages[len(next.Messages)-1].Kind != model.KindAction {
			t.Fatalf("tail is not the action")
		}
	})
}

func TestPropertyCancelNeverAddsError(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		events := rapid.SliceOf(eventGen()).Draw(t, "events")
		s := State{}.AppendUser(model.TextContent("hi"))
		for _, ev := range events {
			s = s.Apply(ev)
		}
		before := s.Snapshot()
		c := s.Cancel()

		for _, m := range c.Messages {
			if m.Kind == model.KindError {
				t.Fatalf("cancel produced an error entry")
			}
		}
		if diff := cmp.Diff(before, s.Messages); diff != "" {
			t.Fatalf("cancel mutated receiver:\n%s", diff)
		}
		if len(c.Messages) < len(s.Messages)-1 || len(c.Messages) > len(s.Messages) {
			t.Fatalf("cancel removed more than the presence")
		}
	})
}
