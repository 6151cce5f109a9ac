package pipeline

import "strings"

// Gateway responses wrap JSON in prose or code fences more often than not.
// These helpers cut out the widest plausible JSON value; the caller's
// Unmarshal decides whether it was real.

func jsonObject(s string) string {
	return jsonSlice(s, '{', '}')
}

func jsonArray(s string) string {
	return jsonSlice(s, '[', ']')
}

func jsonSlice(s string, opener, closer byte) string {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "`"))
	start := strings.IndexByte(s, opener)
	end := strings.LastIndexByte(s, closer)
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
