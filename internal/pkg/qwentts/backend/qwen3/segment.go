package qwen3

import "strings"

// maxSegmentRunes bounds a single talker pass; longer runs of text without
// sentence breaks are split at the nearest space.
const maxSegmentRunes = 300

// splitSegments breaks text into sentence-sized pieces. Each piece becomes
// one inference pass and one output chunk, which keeps per-call latency
// bounded and gives cancellation a checkpoint between sentences.
func splitSegments(text string) []string {
	var segments []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			segments = append(segments, s)
		}
		current.Reset()
	}

	for _, r := range text {
		current.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n', '。', '！', '？':
			flush()
		default:
			if current.Len() >= maxSegmentRunes*4 {
				flush()
				continue
			}
			if runeCount(current.String()) >= maxSegmentRunes && r == ' ' {
				flush()
			}
		}
	}
	flush()

	return segments
}

func runeCount(s string) int {
	return len([]rune(s))
}
