package transcript_test

import (
	"testing"

	"github.com/MrWong99/telecaller/internal/transcript"
)

func TestAggregator_Scenarios(t *testing.T) {
	t.Parallel()

	type step struct {
		speaker  transcript.Speaker
		text     string
		complete bool
	}
	type want struct {
		speaker transcript.Speaker
		text    string
		final   bool
	}

	tests := []struct {
		name  string
		steps []step
		want  []want
	}{
		{
			name: "same speaker fragments merge",
			steps: []step{
				{speaker: transcript.SpeakerUser, text: "Hel"},
				{speaker: transcript.SpeakerUser, text: "lo"},
			},
			want: []want{{transcript.SpeakerUser, "Hello", false}},
		},
		{
			name: "speaker change starts new entry",
			steps: []step{
				{speaker: transcript.SpeakerUser, text: "Hi"},
				{speaker: transcript.SpeakerAI, text: "Namaste"},
				{speaker: transcript.SpeakerUser, text: " again"},
			},
			want: []want{
				{transcript.SpeakerUser, "Hi", false},
				{transcript.SpeakerAI, "Namaste", false},
				{transcript.SpeakerUser, " again", false},
			},
		},
		{
			name: "turn complete finalizes and trims",
			steps: []step{
				{speaker: transcript.SpeakerUser, text: " Hi "},
				{speaker: transcript.SpeakerAI, text: " Hello there  "},
				{complete: true},
			},
			want: []want{
				{transcript.SpeakerUser, "Hi", true},
				{transcript.SpeakerAI, "Hello there", true},
			},
		},
		{
			name: "fragment after finalized entry starts a new one",
			steps: []step{
				{speaker: transcript.SpeakerAI, text: "One."},
				{complete: true},
				{speaker: transcript.SpeakerAI, text: " Two."},
			},
			want: []want{
				{transcript.SpeakerAI, "One.", true},
				{transcript.SpeakerAI, " Two.", false},
			},
		},
		{
			name: "final entries are not re-trimmed",
			steps: []step{
				{speaker: transcript.SpeakerAI, text: "A"},
				{complete: true},
				{speaker: transcript.SpeakerUser, text: "  b  "},
				{complete: true},
			},
			want: []want{
				{transcript.SpeakerAI, "A", true},
				{transcript.SpeakerUser, "b", true},
			},
		},
		{
			name: "empty fragments ignored",
			steps: []step{
				{speaker: transcript.SpeakerUser, text: ""},
			},
			want: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := transcript.New()
			for _, s := range tc.steps {
				if s.complete {
					a.CompleteTurn()
					continue
				}
				a.Append(s.speaker, s.text)
			}
			got := a.Entries()
			if len(got) != len(tc.want) {
				t.Fatalf("entries = %+v; want %d entries", got, len(tc.want))
			}
			for i, w := range tc.want {
				if got[i].Speaker != w.speaker || got[i].Text != w.text || got[i].IsFinal != w.final {
					t.Errorf("entry %d = {%v %q final=%v}; want {%v %q final=%v}",
						i, got[i].Speaker, got[i].Text, got[i].IsFinal, w.speaker, w.text, w.final)
				}
			}
		})
	}
}

func TestAggregator_IDsAreUnique(t *testing.T) {
	t.Parallel()

	a := transcript.New()
	a.Append(transcript.SpeakerUser, "a")
	a.Append(transcript.SpeakerAI, "b")
	a.Append(transcript.SpeakerUser, "c")

	seen := map[string]bool{}
	for _, e := range a.Entries() {
		if e.ID == "" || seen[e.ID] {
			t.Errorf("duplicate or empty id %q", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestAggregator_ResetAndOnChange(t *testing.T) {
	t.Parallel()

	a := transcript.New()
	var snaps [][]transcript.Entry
	a.OnChange(func(e []transcript.Entry) { snaps = append(snaps, e) })

	a.Append(transcript.SpeakerUser, "hi")
	a.Reset()

	if len(a.Entries()) != 0 {
		t.Errorf("entries after Reset = %d; want 0", len(a.Entries()))
	}
	if len(snaps) != 2 || len(snaps[0]) != 1 || len(snaps[1]) != 0 {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestAggregator_EntriesIsACopy(t *testing.T) {
	t.Parallel()

	a := transcript.New()
	a.Append(transcript.SpeakerUser, "hi")
	got := a.Entries()
	got[0].Text = "changed"
	if a.Entries()[0].Text != "hi" {
		t.Error("Entries exposes internal state")
	}
}

func TestSpeaker_String(t *testing.T) {
	t.Parallel()

	if transcript.SpeakerUser.String() != "user" || transcript.SpeakerAI.String() != "ai" {
		t.Error("unexpected speaker names")
	}
}
