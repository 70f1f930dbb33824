package webbridge

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MimeTypeForURL resolves the MIME type handed to the external opener. File
// URLs sniff the content when readable and fall back to the extension; data
// URLs carry their own type; everything else reports "" and the opener
// resolves the type itself.
func MimeTypeForURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "file":
		if mt, err := mimetype.DetectFile(u.Path); err == nil {
			return mt.String()
		}
		if ext := path.Ext(u.Path); ext != "" {
			if t := mime.TypeByExtension(ext); t != "" {
				if i := strings.IndexByte(t, ';'); i >= 0 {
					t = t[:i]
				}
				return t
			}
		}
		return ""
	case "data":
		// data:[<mediatype>][;base64],<data>
		if i := strings.IndexByte(u.Opaque, ','); i >= 0 {
			meta := u.Opaque[:i]
			if j := strings.IndexByte(meta, ';'); j >= 0 {
				meta = meta[:j]
			}
			return meta
		}
		return ""
	default:
		return ""
	}
}
