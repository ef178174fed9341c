package redaction

import "strings"

// minSecretLen is the shortest value the masker will touch. Anything shorter
// collides with too much ordinary text (single digits, "ok", list indexes)
// to be maskable without wrecking the payload.
const minSecretLen = 3

// keepEdges is the number of leading and trailing characters preserved when a
// secret is long enough to keep context without leaking it.
const keepEdges = 2

// structural tokens that are never masked even when a credential contains them.
var neverMask = map[string]struct{}{
	"true": {}, "false": {}, "null": {},
}

// Maskable reports whether a secret value participates in redaction.
func Maskable(secret string) bool {
	if len(secret) < minSecretLen {
		return false
	}
	_, structural := neverMask[secret]
	return !structural
}

// MaskValue produces the length-preserving replacement for a secret: same
// visual width, with a fixed number of edge characters kept when the value is
// long enough that the edges alone cannot reconstruct it.
func MaskValue(secret string) string {
	r := []rune(secret)
	if len(r) >= keepEdges*2+4 {
		return string(r[:keepEdges]) + strings.Repeat("*", len(r)-keepEdges*2) + string(r[len(r)-keepEdges:])
	}
	return strings.Repeat("*", len(r))
}

// MaskLine replaces every occurrence of each maskable secret in the line.
// Longer secrets are applied first so a short secret cannot punch a hole in
// the middle of a longer one and leave its edges exposed.
func MaskLine(line string, secrets []string) string {
	for _, s := range secrets {
		if !Maskable(s) {
			continue
		}
		if strings.Contains(line, s) {
			line = strings.ReplaceAll(line, s, MaskValue(s))
		}
	}
	return line
}
