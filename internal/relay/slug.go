package relay

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

// maximum slug length after sanitising.
const _max_slug_len = 63

var _slug_pattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// word lists for generated slugs: ~22 x ~22 x 1000 combinations.
var _adjectives = []string{
	"amber", "bold", "brave", "bright", "calm", "clever", "cosmic", "crisp",
	"eager", "fancy", "gentle", "happy", "jolly", "lively", "lucky", "mellow",
	"noble", "quick", "quiet", "rapid", "sunny", "witty",
}

var _nouns = []string{
	"badger", "bridge", "canyon", "cedar", "comet", "falcon", "garden",
	"harbor", "island", "lagoon", "maple", "meadow", "otter", "pebble",
	"perch", "prairie", "raven", "river", "spruce", "summit", "tiger",
	"willow",
}

// SanitizeSlug lowercases a requested slug and strips everything outside
// [a-z0-9-], truncating to the maximum length.
func SanitizeSlug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > _max_slug_len {
		out = out[:_max_slug_len]
	}
	return out
}

// ValidSlug reports whether a sanitised slug is acceptable as-is.
func ValidSlug(s string) bool {
	return s != "" && len(s) <= _max_slug_len && _slug_pattern.MatchString(s)
}

// _random_slug generates an <adjective>-<noun>-<number> candidate.
func _random_slug() string {
	adj := _adjectives[rand.IntN(len(_adjectives))]
	noun := _nouns[rand.IntN(len(_nouns))]
	return fmt.Sprintf("%s-%s-%d", adj, noun, rand.IntN(1000))
}
