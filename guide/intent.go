package guide

import "regexp"

// lookupIntent matches questions that ask which exact artifact something
// is, or where to find it.
var lookupIntent = regexp.MustCompile(
	`(?i)(哪一?(件|个|块|幅|石|面|座|尊|组|张)|是哪|在哪|哪里能看|哪儿|which\s+(one|artifact|exhibit|piece|stone)|where\s+(is|can\s+i))`,
)

// HasLookupIntent reports whether question asks to identify a specific
// artifact.
func HasLookupIntent(question string) bool {
	return lookupIntent.MatchString(question)
}
