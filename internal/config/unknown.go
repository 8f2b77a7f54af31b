package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxSuggestDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxSuggestDistance = 3

// knownTopKeys are the valid flat top-level keys.
var knownTopKeys = map[string]bool{
	"provider":  true,
	"device_id": true,
}

// knownSectionKeys maps each section name to its valid keys.
var knownSectionKeys = map[string]map[string]bool{
	"logging": {
		"level": true, "format": true, "file": true,
	},
	"webdav": {
		"url": true, "username": true, "folder": true, "insecure_tls": true,
	},
	"graphdrive": {
		"client_id": true,
	},
	"gdrive": {
		"client_id": true, "client_secret": true,
	},
	"pkcerest": {
		"base_url": true, "client_id": true, "folder": true,
	},
	"s3vault": {
		"bucket": true, "prefix": true, "region": true, "endpoint": true,
		"access_key_id": true, "use_path_style": true,
	},
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and
// returns an error with suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		errs = append(errs, unknownKeyError(key.String()))
	}

	return errors.Join(errs...)
}

// unknownKeyError builds a descriptive error for one unknown key,
// suggesting the closest valid key in the same scope.
func unknownKeyError(keyStr string) error {
	section, leaf, nested := strings.Cut(keyStr, ".")

	if !nested {
		if _, isSection := knownSectionKeys[section]; isSection {
			// A bare known section name never reaches here.
			return fmt.Errorf("unknown config key %q", keyStr)
		}

		candidates := topLevelCandidates()

		if suggestion := closestMatch(section, candidates); suggestion != "" {
			return fmt.Errorf("unknown config key %q — did you mean %q?", keyStr, suggestion)
		}

		return fmt.Errorf("unknown config key %q", keyStr)
	}

	valid, isSection := knownSectionKeys[section]
	if !isSection {
		if suggestion := closestMatch(section, sortedKeys(knownSectionKeys)); suggestion != "" {
			return fmt.Errorf("unknown config section %q — did you mean %q?", section, suggestion)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	if suggestion := closestMatch(leaf, sortedKeys(valid)); suggestion != "" {
		return fmt.Errorf("unknown key %q in [%s] — did you mean %q?", leaf, section, suggestion)
	}

	return fmt.Errorf("unknown key %q in [%s]", leaf, section)
}

func topLevelCandidates() []string {
	out := sortedKeys(knownTopKeys)
	out = append(out, sortedKeys(knownSectionKeys)...)

	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// closestMatch finds the closest known key by Levenshtein distance.
// Candidates must be sorted so ties resolve deterministically.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxSuggestDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes edit distance with a two-row rolling buffer.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
