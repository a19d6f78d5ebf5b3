package imaging

import "bytes"

// SignatureLength is how many leading bytes are inspected.
const SignatureLength = 3

// magics maps a mime type to the magic-byte prefix that proves it.
// Used only for validation; extension hints come from extensions.
var magics = map[string][]byte{
	"image/jpeg": {0xFF, 0xD8, 0xFF},
	"image/png":  {0x89, 0x50, 0x4E},
	"image/gif":  {0x47, 0x49, 0x46},
}

// extensions maps a mime type to the file-extension hint used in
// responses. Purely cosmetic; lookups strip the extension anyway.
var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
}

// Sniff matches the leading bytes of b against the known magic
// prefixes and returns the detected mime type. Payloads shorter than
// SignatureLength never match. The client-declared content type plays
// no part here.
func Sniff(b []byte) (string, bool) {
	if len(b) < SignatureLength {
		return "", false
	}
	prefix := b[:SignatureLength]
	for mimeType, magic := range magics {
		if bytes.Equal(prefix, magic) {
			return mimeType, true
		}
	}
	return "", false
}

// ExtensionFor returns the extension hint for a mime type, or "" when
// the type is unknown.
func ExtensionFor(mimeType string) string {
	return extensions[mimeType]
}
