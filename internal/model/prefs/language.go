package prefs

import "strings"

// NormalizeLanguage maps a browser language tag onto one the agent knows.
// Every English variant becomes en-US.
func NormalizeLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if strings.HasPrefix(strings.ToLower(tag), "en-") {
		return "en-US"
	}
	return tag
}

// PreferredLanguage returns the first language of an Accept-Language
// header, normalized. Quality values are ignored since browsers list the
// preferred language first.
func PreferredLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	first = strings.TrimSpace(first)
	if first == "" || first == "*" {
		return ""
	}
	return NormalizeLanguage(first)
}
