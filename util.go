package turbovk

import "strings"

// safeString null-terminates a string for handing to the C side.
func safeString(s string) string {
	if len(s) == 0 {
		return "\x00"
	}
	if s[len(s)-1] != '\x00' {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}

// checkExisting keeps the required names that are present in actual and
// reports how many were missing.
func checkExisting(actual, required []string) ([]string, int) {
	var existing []string
	missing := 0
	for _, name := range required {
		want := strings.TrimSuffix(name, "\x00")
		found := false
		for _, have := range actual {
			if have == want {
				found = true
				break
			}
		}
		if found {
			existing = append(existing, safeString(want))
		} else {
			missing++
		}
	}
	return existing, missing
}
