// Package longform implements the Coordinator studio (spec.md §4.7):
// splitting a long script into per-segment audio/video jobs capped at the
// face-video provider's duration limit, and driving each segment through
// its own sub-state-machine before handing off to stitching.
package longform

import (
	"regexp"
	"strings"
)

// Segment is one chunk of a split script, with an estimated spoken
// duration used to size the downstream face-video call.
type Segment struct {
	Index       int
	Text        string
	DurationSec int
}

var (
	sentenceSplit = regexp.MustCompile(`(?:[.!?])\s+`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// estimateDurationSeconds approximates spoken duration from word count at
// wpm words per minute, floored at 1 second for any non-empty text.
func estimateDurationSeconds(text string, wpm int) int {
	words := 0
	for _, w := range whitespace.Split(strings.TrimSpace(text), -1) {
		if w != "" {
			words++
		}
	}
	if words <= 0 {
		return 0
	}
	sec := int(float64(words) * 60.0 / float64(wpm))
	if sec < 1 {
		sec = 1
	}
	return sec
}

// SplitScriptIntoSegments splits a long-form script into segments sized
// for the face-video provider, whose single-call duration limit is
// maxSegmentSeconds (never above facevideo.MaxDurationSeconds).
//
// Strategy, ported from the original chunking service: sentence-ish
// splitting on [.!?], greedily packing sentences into a segment until
// targetSegmentSeconds is reached, with a hard flush at maxSegmentSeconds.
// A single sentence longer than the cap still becomes its own segment —
// its duration is clamped, not rejected.
func SplitScriptIntoSegments(scriptText string, targetSegmentSeconds, maxSegmentSeconds, wpm int) []Segment {
	s := strings.TrimSpace(scriptText)
	if s == "" {
		return nil
	}
	s = whitespace.ReplaceAllString(s, " ")

	var parts []string
	for _, p := range sentenceSplit.Split(s, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	cap := maxSegmentSeconds
	if cap < 10 {
		cap = 10
	}
	if cap > 120 {
		cap = 120
	}
	target := targetSegmentSeconds
	if target < 10 {
		target = 10
	}
	if target > cap {
		target = cap
	}

	var segments []Segment
	var cur []string
	curSec := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(cur, " "))
		dur := estimateDurationSeconds(text, wpm)
		if dur < 1 {
			dur = 1
		}
		if dur > cap {
			dur = cap
		}
		segments = append(segments, Segment{Index: len(segments), Text: text, DurationSec: dur})
		cur = nil
		curSec = 0
	}

	for _, sent := range parts {
		sentSec := estimateDurationSeconds(sent, wpm)
		if sentSec < 1 {
			sentSec = 1
		}

		if len(cur) > 0 && curSec+sentSec > cap {
			flush()
		}

		cur = append(cur, sent)
		curSec = estimateDurationSeconds(strings.Join(cur, " "), wpm)

		if curSec >= target {
			flush()
		}
	}
	flush()

	return segments
}
