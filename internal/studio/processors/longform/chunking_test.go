package longform

import "testing"

func TestSplitScriptIntoSegmentsEmpty(t *testing.T) {
	if got := SplitScriptIntoSegments("   ", 60, 120, 150); got != nil {
		t.Fatalf("want nil, got=%v", got)
	}
	if got := SplitScriptIntoSegments("", 60, 120, 150); got != nil {
		t.Fatalf("want nil, got=%v", got)
	}
}

func TestSplitScriptIntoSegmentsSingleShortSentence(t *testing.T) {
	got := SplitScriptIntoSegments("Hello there.", 60, 120, 150)
	if len(got) != 1 {
		t.Fatalf("want 1 segment, got=%d", len(got))
	}
	if got[0].Index != 0 || got[0].Text != "Hello there." {
		t.Fatalf("unexpected segment: %+v", got[0])
	}
	if got[0].DurationSec < 1 {
		t.Fatalf("duration should be floored at 1s, got=%d", got[0].DurationSec)
	}
}

func TestSplitScriptIntoSegmentsPacksUntilTarget(t *testing.T) {
	// At 150 wpm, ~2.5 words/sec. A 60s target needs ~150 words to flush.
	sentence := "This is a reasonably long sentence with several words in it."
	script := ""
	for i := 0; i < 10; i++ {
		script += sentence + " "
	}

	got := SplitScriptIntoSegments(script, 60, 120, 150)
	if len(got) == 0 {
		t.Fatalf("expected at least one segment")
	}
	for i, seg := range got {
		if seg.Index != i {
			t.Fatalf("segment %d: want index=%d got=%d", i, i, seg.Index)
		}
		if seg.DurationSec > 120 {
			t.Fatalf("segment %d exceeds hard cap: %ds", i, seg.DurationSec)
		}
	}
}

func TestSplitScriptIntoSegmentsOversizeSentenceBecomesOwnSegment(t *testing.T) {
	words := make([]string, 0, 400)
	for i := 0; i < 400; i++ {
		words = append(words, "word")
	}
	var oversize string
	for i, w := range words {
		if i > 0 {
			oversize += " "
		}
		oversize += w
	}
	oversize += "."

	got := SplitScriptIntoSegments(oversize, 60, 120, 150)
	if len(got) != 1 {
		t.Fatalf("oversize single sentence should still produce exactly one segment, got=%d", len(got))
	}
	if got[0].DurationSec != 120 {
		t.Fatalf("oversize sentence duration should clamp to the hard cap 120, got=%d", got[0].DurationSec)
	}
}

func TestSplitScriptIntoSegmentsCapGuardrails(t *testing.T) {
	// max below 10 is raised to 10 and target is clamped to the cap; cap never exceeds 120.
	got := SplitScriptIntoSegments("One sentence here.", 200, 5, 150)
	if len(got) != 1 {
		t.Fatalf("want 1 segment, got=%d", len(got))
	}
	if got[0].DurationSec > 120 {
		t.Fatalf("cap must never exceed the provider hard limit of 120s, got=%d", got[0].DurationSec)
	}
}

func TestSplitScriptIntoSegmentsIndicesAreSequential(t *testing.T) {
	script := "First sentence. Second sentence. Third sentence. Fourth sentence."
	got := SplitScriptIntoSegments(script, 1, 2, 150)
	for i, seg := range got {
		if seg.Index != i {
			t.Fatalf("segment at position %d has Index=%d", i, seg.Index)
		}
	}
}
