// Package hls reroutes playlist sub-resources through the streaming proxy.
//
// The encoder writes playlists whose variant and segment URIs are plain
// relative filenames. Served as-is, a player would fetch those siblings from
// an unauthenticated path and stall on the first 401. Every URI is therefore
// rewritten to re-enter the proxy route carrying the master playlist's token,
// which the sibling-reuse rule of the token codec accepts for the whole
// asset folder.
package hls

import (
	"bufio"
	"bytes"
	"net/url"
	"path"
	"regexp"
	"strings"

	"coursestream/internal/auth"
)

// Router builds proxy URLs for playback sub-resources.
type Router struct {
	// StreamRoute is the proxy path, e.g. "/stream".
	StreamRoute string
}

var uriAttribute = regexp.MustCompile(`URI="([^"]*)"`)

// RouteRequest rewrites one sub-resource reference issued while playing the
// master playlist identified by masterFile. References that already target
// the proxy route are passed through untouched, so applying the rewrite
// twice is harmless. The sibling is addressed inside the master's directory
// regardless of how the reference was spelled (relative name, absolute path,
// or full URL against an unrelated base).
func (r Router) RouteRequest(masterFile, masterToken, resource string) string {
	trimmed := strings.TrimSpace(resource)
	if trimmed == "" {
		return resource
	}
	if r.targetsProxy(trimmed) {
		return resource
	}
	name := resourceName(trimmed)
	if name == "" {
		return resource
	}
	baseDir := path.Dir(auth.NormalizePath(masterFile))
	file := name
	if baseDir != "." && baseDir != "" {
		file = baseDir + "/" + name
	}
	query := url.Values{}
	query.Set("file", file)
	query.Set("token", masterToken)
	return r.StreamRoute + "?" + query.Encode()
}

// RewritePlaylist routes every URI inside an HLS playlist through the proxy:
// bare URI lines (variant playlists, segments) and URI="" attributes on tag
// lines (media renditions, keys) alike.
func (r Router) RewritePlaylist(playlist []byte, masterFile, masterToken string) []byte {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(playlist))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(strings.TrimSpace(line), "#"):
			out.WriteString(uriAttribute.ReplaceAllStringFunc(line, func(match string) string {
				groups := uriAttribute.FindStringSubmatch(match)
				return `URI="` + r.RouteRequest(masterFile, masterToken, groups[1]) + `"`
			}))
		case strings.TrimSpace(line) == "":
			out.WriteString(line)
		default:
			out.WriteString(r.RouteRequest(masterFile, masterToken, strings.TrimSpace(line)))
		}
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func (r Router) targetsProxy(resource string) bool {
	route := r.StreamRoute
	if route == "" {
		return false
	}
	if strings.HasPrefix(resource, route+"?") || resource == route {
		return true
	}
	if parsed, err := url.Parse(resource); err == nil && parsed.Path == route && parsed.Query().Get("token") != "" {
		return true
	}
	return false
}

// resourceName reduces any reference shape to its final path component.
func resourceName(resource string) string {
	candidate := resource
	if parsed, err := url.Parse(resource); err == nil && parsed.Path != "" {
		candidate = parsed.Path
	}
	name := path.Base(auth.NormalizePath(candidate))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
