package ingest

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultCharset is the attribute encoding used when none is configured
const DefaultCharset = "UTF-8"

// ResolveCharset looks up an encoding by its WHATWG name or label
// ("UTF-8", "ISO-8859-1", "windows-1252", "latin1", ...)
func ResolveCharset(name string) (encoding.Encoding, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultCharset
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	return enc, nil
}

// textDecoder converts raw attribute bytes to UTF-8
type textDecoder struct {
	dec *encoding.Decoder
}

func newTextDecoder(charset string) (*textDecoder, error) {
	enc, err := ResolveCharset(charset)
	if err != nil {
		return nil, err
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return &textDecoder{}, nil
	}
	return &textDecoder{dec: enc.NewDecoder()}, nil
}

func (d *textDecoder) decode(s string) string {
	if d.dec == nil {
		return s
	}
	out, err := d.dec.String(s)
	if err != nil {
		return s
	}
	return out
}
