package format

import (
	"net/url"
	"regexp"
	"strings"
)

// imageToken matches markdown image references ![alt](target).
var imageToken = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)\)`)

// ExpandMarkdown walks image tokens in order and produces a heterogeneous
// prompt sequence of string | *url.URL | []byte parts. file:// targets
// resolve against the per-request uploaded-file map (raw, percent-decoded,
// percent-encoded key, in that order); other schemes pass through as URLs;
// unparseable targets fall back to the raw token. The textual token is
// appended again after each resolved form so the model sees both the inline
// asset and its reference. Consecutive strings are merged.
func ExpandMarkdown(input string, files map[string][]byte) []any {
	var parts []any
	appendPart := func(part any) {
		if s, ok := part.(string); ok {
			if s == "" {
				return
			}
			if len(parts) > 0 {
				if prev, isStr := parts[len(parts)-1].(string); isStr {
					parts[len(parts)-1] = prev + s
					return
				}
			}
			parts = append(parts, s)
			return
		}
		parts = append(parts, part)
	}

	rest := input
	for {
		loc := imageToken.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		token := rest[loc[0]:loc[1]]
		target := rest[loc[2]:loc[3]]
		appendPart(rest[:loc[0]])

		resolved := resolveTarget(token, target, files)
		appendPart(resolved)
		if _, isRaw := resolved.(string); !isRaw {
			appendPart(token)
		}
		rest = rest[loc[1]:]
	}
	appendPart(rest)
	if len(parts) == 0 {
		parts = append(parts, "")
	}
	return parts
}

func resolveTarget(token, target string, files map[string][]byte) any {
	parsed, err := url.Parse(target)
	// file:// targets are looked up by name even when url.Parse rejects them
	// (percent escapes such as %20 are not accepted in the host part).
	if !strings.HasPrefix(target, "file://") && (err != nil || parsed.Scheme != "file") {
		if err != nil || parsed.Scheme == "" {
			// Relative or broken target: keep the raw token text.
			return token
		}
		return parsed
	}

	name := strings.TrimPrefix(target, "file://")
	if data, ok := files[name]; ok {
		return data
	}
	if decoded, decErr := url.PathUnescape(name); decErr == nil {
		if data, ok := files[decoded]; ok {
			return data
		}
	}
	if data, ok := files[url.PathEscape(name)]; ok {
		return data
	}
	return token
}
