// Package fingerprint derives a best-effort device signal from attributes a
// browser exposes. The token is a heuristic abuse key for the ledger; it is
// spoofable and collisions are expected.
package fingerprint

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Environment is a snapshot of client-observable signals.
type Environment struct {
	Canvas           string   `json:"canvas"`
	UserAgent        string   `json:"userAgent"`
	Language         string   `json:"language"`
	Platform         string   `json:"platform"`
	ScreenResolution string   `json:"screenResolution"`
	Timezone         string   `json:"timezone"`
	Plugins          []string `json:"plugins"`
}

// Empty reports whether no signal was captured.
func (e Environment) Empty() bool {
	return e.Canvas == "" && e.UserAgent == "" && e.Language == "" && e.Platform == "" &&
		e.ScreenResolution == "" && e.Timezone == "" && len(e.Plugins) == 0
}

// Generate collapses the environment into a short opaque token. Values are
// trimmed and plugins sorted, so the same environment always yields the same
// token regardless of enumeration order.
func Generate(env Environment) string {
	canonical := Environment{
		Canvas:           strings.TrimSpace(env.Canvas),
		UserAgent:        strings.TrimSpace(env.UserAgent),
		Language:         strings.ToLower(strings.TrimSpace(env.Language)),
		Platform:         strings.TrimSpace(env.Platform),
		ScreenResolution: strings.TrimSpace(env.ScreenResolution),
		Timezone:         strings.TrimSpace(env.Timezone),
		Plugins:          normalizePlugins(env.Plugins),
	}
	// encoding a struct of strings cannot fail
	payload, _ := json.Marshal(canonical)
	sum := blake2b.Sum256(payload)
	return strconv.FormatUint(binary.BigEndian.Uint64(sum[:8]), 36)
}

func normalizePlugins(plugins []string) []string {
	out := make([]string, 0, len(plugins))
	for _, p := range plugins {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// FromHeaders builds a degraded environment from request headers, for
// callers that could not collect browser signals.
func FromHeaders(userAgent, acceptLanguage string) Environment {
	lang := acceptLanguage
	if i := strings.IndexAny(lang, ",;"); i >= 0 {
		lang = lang[:i]
	}
	return Environment{UserAgent: userAgent, Language: lang}
}
