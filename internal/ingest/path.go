package ingest

import "strings"

// ExtractStreamKey pulls the credential out of an ingest path such as
// "live/<key>", "/live/<key>?token=x" or "rtmp://host/live/<key>". The
// credential is the last non-empty path segment once any query string is
// dropped. A path that is only the layout prefix carries no credential.
func ExtractStreamKey(path, prefix string) string {
	p := strings.TrimSpace(path)
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	p = strings.Trim(p, "/")
	prefix = strings.Trim(prefix, "/")
	if p == "" || (prefix != "" && (p == prefix || strings.HasSuffix(p, "/"+prefix))) {
		return ""
	}
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	}
	return strings.TrimSpace(p)
}
