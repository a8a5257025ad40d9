// Package variator rewrites drafts that would repeat recently sent
// content, so identical bulk messages get lexically distinct surface
// forms per recipient.
package variator

import (
	"strings"
	"sync"

	"github.com/ardiansr/wa-bridge/internal/humanize"
)

// ringSize is how many recent outputs are remembered per jid.
const ringSize = 8

var emojiCatalog = []string{"🙂", "😊", "👍", "🙌", "✨", "😄"}

var greetingSwaps = map[string][]string{
	"hi":             {"hello", "hey"},
	"hello":          {"hi", "hey"},
	"hey":            {"hi", "hello"},
	"good morning":   {"morning"},
	"morning":        {"good morning"},
	"good afternoon": {"good day"},
	"good evening":   {"evening"},
}

type Variator struct {
	mu    sync.Mutex
	sim   *humanize.Simulator
	rings map[string][]string
}

func New(sim *humanize.Simulator) *Variator {
	return &Variator{sim: sim, rings: make(map[string][]string)}
}

// Vary returns the text to send. When text repeats an entry in the
// recipient's recent ring it returns a variant differing from both the
// draft and every ring entry. exhausted=true means no such variant could
// be produced and the caller should surface the anomaly.
func (v *Variator) Vary(jid, text string) (out string, exhausted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ring := v.rings[jid]
	if !contains(ring, text) {
		return text, false
	}

	for _, candidate := range v.candidates(text) {
		if !strings.EqualFold(candidate, text) && !contains(ring, candidate) {
			return candidate, false
		}
	}
	return text, true
}

// Push records what was actually sent to jid.
func (v *Variator) Push(jid, sent string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ring := append(v.rings[jid], sent)
	if len(ring) > ringSize {
		ring = ring[len(ring)-ringSize:]
	}
	v.rings[jid] = ring
}

// candidates generates variants in randomized order: trailing emoji
// added or removed, greeting prefix swapped, final punctuation adjusted,
// and pairwise combinations of those. Caller holds v.mu.
func (v *Variator) candidates(text string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		key := strings.ToLower(s)
		if s != "" && !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}

	base := []string{text}
	if swapped, ok := swapGreeting(text); ok {
		add(swapped)
		base = append(base, swapped)
	}

	for _, b := range base {
		if stripped, ok := stripTrailingEmoji(b); ok {
			add(stripped)
		}
		for _, p := range adjustPunctuation(b) {
			add(p)
		}
		// Emoji picks start at a random catalog offset so repeated
		// exhaustion does not always land on the same variant.
		start := v.sim.Intn(len(emojiCatalog))
		for i := range emojiCatalog {
			add(strings.TrimRight(b, " ") + " " + emojiCatalog[(start+i)%len(emojiCatalog)])
		}
	}
	return out
}

func contains(ring []string, text string) bool {
	for _, r := range ring {
		if strings.EqualFold(r, text) {
			return true
		}
	}
	return false
}

func stripTrailingEmoji(text string) (string, bool) {
	trimmed := strings.TrimRight(text, " ")
	for _, e := range emojiCatalog {
		if strings.HasSuffix(trimmed, e) {
			return strings.TrimRight(strings.TrimSuffix(trimmed, e), " "), true
		}
	}
	return "", false
}

func swapGreeting(text string) (string, bool) {
	lower := strings.ToLower(text)
	for prefix, swaps := range greetingSwaps {
		if lower == prefix || strings.HasPrefix(lower, prefix+" ") || strings.HasPrefix(lower, prefix+",") {
			rest := text[len(prefix):]
			return matchCase(swaps[0], text) + rest, true
		}
	}
	return "", false
}

// matchCase upcases the replacement's first letter when the original
// starts with an uppercase letter.
func matchCase(replacement, original string) string {
	if original == "" || replacement == "" {
		return replacement
	}
	if original[0] >= 'A' && original[0] <= 'Z' {
		return strings.ToUpper(replacement[:1]) + replacement[1:]
	}
	return replacement
}

func adjustPunctuation(text string) []string {
	trimmed := strings.TrimRight(text, " ")
	bare := strings.TrimRight(trimmed, ".!")
	if bare == "" {
		return nil
	}
	var out []string
	for _, suffix := range []string{"", ".", "!"} {
		candidate := bare + suffix
		if candidate != trimmed {
			out = append(out, candidate)
		}
	}
	return out
}
