package faodel

import (
	"fmt"
	"strconv"
	"strings"
)

// ResourceURL names a pool/directory resource:
//
//	<type>:[bucket]<refnode>/path/name&opt=val&...
//
// resource_type is mandatory; bucket and reference_node are optional and
// bracketed/angled respectively; path is "/" or "/seg(/seg)*"; options form
// an ordered (insertion-order) mapping with unique keys.
type ResourceURL struct {
	ResourceType string
	Bucket       Bucket
	Reference    NodeID
	hasBucket    bool
	hasRef       bool
	Path         string // everything up to and excluding the last segment
	Name         string // final path segment; may be empty only for "/"
	optKeys      []string
	optVals      map[string]string
}

// NewResourceURL builds a bare ResourceURL for resourceType and a "/"-joined path.
func NewResourceURL(resourceType, path string) ResourceURL {
	u := ResourceURL{ResourceType: resourceType, optVals: map[string]string{}}
	u.setPath(path)
	return u
}

func (u *ResourceURL) setPath(path string) {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		u.Path = "/"
		u.Name = ""
		return
	}
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		u.Path = "/"
		u.Name = path
		return
	}
	u.Path = path[:idx]
	if u.Path == "" {
		u.Path = "/"
	}
	u.Name = path[idx+1:]
}

// WithPath returns a copy of u with its path replaced (type, bucket,
// reference, and options preserved), e.g. to rewrite a URL against an
// ancestor directory.
func (u ResourceURL) WithPath(path string) ResourceURL {
	cp := u
	cp.setPath(path)
	return cp
}

// FullPath returns Path joined with Name, e.g. "/a/b" + "c" -> "/a/b/c".
func (u ResourceURL) FullPath() string {
	if u.Name == "" {
		return u.Path
	}
	if u.Path == "/" {
		return "/" + u.Name
	}
	return u.Path + "/" + u.Name
}

// ParentPath returns the path one level up from this URL's full path, or ""
// if this URL is already the root.
func (u ResourceURL) ParentPath() string {
	full := u.FullPath()
	if full == "/" {
		return ""
	}
	idx := strings.LastIndexByte(full, '/')
	if idx <= 0 {
		return "/"
	}
	return full[:idx]
}

// SetOption sets (or overwrites, preserving position) an option value.
func (u *ResourceURL) SetOption(key, val string) {
	if u.optVals == nil {
		u.optVals = map[string]string{}
	}
	if _, exists := u.optVals[key]; !exists {
		u.optKeys = append(u.optKeys, key)
	}
	u.optVals[key] = val
}

// GetOption returns an option's value and whether it was present.
func (u ResourceURL) GetOption(key string) (string, bool) {
	v, ok := u.optVals[key]
	return v, ok
}

// GetOptionDefault returns an option's value, or def if absent.
func (u ResourceURL) GetOptionDefault(key, def string) string {
	if v, ok := u.optVals[key]; ok {
		return v
	}
	return def
}

// OptionKeys returns option keys in the order they were first set.
func (u ResourceURL) OptionKeys() []string {
	return append([]string(nil), u.optKeys...)
}

// HasBucket reports whether a bucket was explicitly present in the URL text.
func (u ResourceURL) HasBucket() bool { return u.hasBucket }

// HasReference reports whether a reference node was explicitly present.
func (u ResourceURL) HasReference() bool { return u.hasRef }

// IsReferenceOnly reports whether this URL lacks enough information (no
// members implied, no explicit reference node when one is required) to act
// on without a directory lookup. In this design that means no explicit
// reference node was set; options are not consulted.
func (u ResourceURL) IsReferenceOnly() bool {
	return !u.hasRef
}

// String renders the canonical text form of the URL.
func (u ResourceURL) String() string {
	var b strings.Builder
	b.WriteString(u.ResourceType)
	b.WriteByte(':')
	if u.hasBucket {
		fmt.Fprintf(&b, "[%08x]", uint32(u.Bucket))
	}
	if u.hasRef {
		fmt.Fprintf(&b, "<%s>", u.Reference.Hex())
	}
	b.WriteString(u.FullPath())
	for _, k := range u.optKeys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(u.optVals[k])
	}
	return b.String()
}

// CanonicalTag returns a string uniquely identifying this resource + its
// behavior-relevant options, used as the pool registry lookup key. It
// excludes options that do not affect pool identity (none currently), but
// is kept as its own method so that policy can change without touching
// callers.
func (u ResourceURL) CanonicalTag() string {
	return u.String()
}

// ParseResourceURL parses the informal grammar from spec §6:
//
//	type ':' ( '[' bucket_hex ']' )? ( '<' node_hex '>' )? path ( '&' key '=' value )*
func ParseResourceURL(s string) (ResourceURL, error) {
	var u ResourceURL
	u.optVals = map[string]string{}

	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return u, NewError(CodeInvalidInput, "resourceurl: missing ':' in %q", s)
	}
	u.ResourceType = s[:colon]
	if u.ResourceType == "" {
		return u, NewError(CodeInvalidInput, "resourceurl: empty resource type in %q", s)
	}
	rest := s[colon+1:]

	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return u, NewError(CodeInvalidInput, "resourceurl: unterminated bucket in %q", s)
		}
		v, err := strconv.ParseUint(rest[1:end], 16, 32)
		if err != nil {
			return u, NewError(CodeInvalidInput, "resourceurl: bad bucket %q: %v", rest[1:end], err)
		}
		u.Bucket = Bucket(v)
		u.hasBucket = true
		rest = rest[end+1:]
	}

	if strings.HasPrefix(rest, "<") {
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return u, NewError(CodeInvalidInput, "resourceurl: unterminated reference node in %q", s)
		}
		nid, err := NodeIDFromHex(rest[1:end])
		if err != nil {
			return u, err
		}
		u.Reference = nid
		u.hasRef = true
		rest = rest[end+1:]
	}

	// Split off options (order-preserving) before parsing the path.
	var optsPart string
	if amp := strings.IndexByte(rest, '&'); amp >= 0 {
		optsPart = rest[amp+1:]
		rest = rest[:amp]
	}

	if rest == "" {
		rest = "/"
	}
	if !strings.HasPrefix(rest, "/") {
		return u, NewError(CodeInvalidInput, "resourceurl: path must start with '/': %q", s)
	}
	u.setPath(rest)
	if u.Name == "" && u.Path != "/" {
		return u, NewError(CodeInvalidInput, "resourceurl: empty name only allowed at root: %q", s)
	}

	if optsPart != "" {
		for _, pair := range strings.Split(optsPart, "&") {
			if pair == "" {
				continue
			}
			eq := strings.IndexByte(pair, '=')
			var k, v string
			if eq < 0 {
				k, v = pair, ""
			} else {
				k, v = pair[:eq], pair[eq+1:]
			}
			if _, dup := u.optVals[k]; dup {
				return u, NewError(CodeInvalidInput, "resourceurl: duplicate option key %q in %q", k, s)
			}
			u.SetOption(k, v)
		}
	}

	return u, nil
}
