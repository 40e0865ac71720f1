package api

import "strings"

// redactPath hides a bot token segment ("/bot<token>/...").
func redactPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/bot")
	if !ok {
		return path
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return "/bot***" + rest[i:]
	}
	return "/bot***"
}
