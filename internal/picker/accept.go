package picker

import (
	"mime"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultAccept offers images only, like an <input accept="image/*">.
const DefaultAccept = "image/*"

// commonTypes covers image formats that the platform MIME table may lack.
var commonTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
	".avif": "image/avif",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
}

// Accept is a parsed accept list: extensions (".jpg"), exact media types
// ("image/png") and wildcards ("image/*"). An empty Accept offers everything.
type Accept struct {
	entries []string
}

// ParseAccept parses a comma-separated accept list.
func ParseAccept(s string) Accept {
	var a Accept
	for _, e := range strings.Split(s, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		a.entries = append(a.entries, e)
	}
	return a
}

// String renders the list back in its comma-separated form.
func (a Accept) String() string { return strings.Join(a.entries, ",") }

// Any reports whether the list places no restriction.
func (a Accept) Any() bool { return len(a.entries) == 0 }

// Matches reports whether the picker should offer path.
func (a Accept) Matches(path string) bool {
	if a.Any() {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	typ := typeOf(ext)
	for _, e := range a.entries {
		switch {
		case strings.HasPrefix(e, "."):
			if e == ext {
				return true
			}
		case strings.HasSuffix(e, "/*"):
			if typ != "" && strings.HasPrefix(typ, strings.TrimSuffix(e, "*")) {
				return true
			}
		default:
			if typ == e {
				return true
			}
		}
	}
	return false
}

// Extensions lists the file suffixes the list admits, in lower and upper
// case, for pickers that filter by suffix. Nil means no restriction.
func (a Accept) Extensions() []string {
	if a.Any() {
		return nil
	}
	seen := map[string]bool{}
	add := func(ext string) {
		if ext != "" && a.Matches("x"+ext) {
			seen[strings.ToLower(ext)] = true
		}
	}
	for ext := range commonTypes {
		add(ext)
	}
	for _, e := range a.entries {
		if strings.HasPrefix(e, ".") {
			add(e)
			continue
		}
		if !strings.HasSuffix(e, "/*") {
			exts, _ := mime.ExtensionsByType(e)
			for _, ext := range exts {
				add(ext)
			}
		}
	}

	out := make([]string, 0, 2*len(seen))
	for ext := range seen {
		out = append(out, ext, strings.ToUpper(ext))
	}
	sort.Strings(out)
	return out
}

func typeOf(ext string) string {
	if t, ok := commonTypes[ext]; ok {
		return t
	}
	t := mime.TypeByExtension(ext)
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
