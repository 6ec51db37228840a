package monitor

import (
	"bytes"
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf16LEBOM = []byte{0xFF, 0xFE}

// Parse scans the whole stream and sets the bit of every flag whose marker
// appears anywhere in it. Read errors end the scan; whatever was read still
// counts. A nil reader yields 0.
func Parse(r io.Reader) Mask {
	if r == nil {
		return 0
	}
	content, _ := io.ReadAll(r)
	return scan(content)
}

// ParseFile reads the log at path. A missing, locked or unreadable file is
// treated as empty.
func ParseFile(path string) Mask {
	if path == "" {
		return 0
	}
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return Parse(f)
}

func scan(content []byte) Mask {
	if len(content) == 0 {
		return 0
	}
	// Older engine versions write UTF-16LE logs.
	if bytes.HasPrefix(content, utf16LEBOM) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if out, _, err := transform.Bytes(dec, content); err == nil {
			content = out
		}
	}

	var m Mask
	for _, d := range flagDefs {
		if bytes.Contains(content, []byte(d.Marker)) {
			m |= Mask(d.Flag)
		}
	}
	return m
}
