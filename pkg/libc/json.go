package libc

import (
	"encoding/json"
	"fmt"
)

// jsonShape mirrors spec.md §6's libc fingerprint JSON shape:
//
//	{"type": "glibc", "major": M, "minor": m} | {"type": "musl"} |
//	{"type": "darwin", "major": M, "minor": m} | {"type": "windows"} |
//	{"type": "unknown"}
type jsonShape struct {
	Type  string `json:"type"`
	Major int    `json:"major,omitempty"`
	Minor int    `json:"minor,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (f Fingerprint) MarshalJSON() ([]byte, error) {
	s := jsonShape{Type: f.Tag.String()}
	if f.Tag == Glibc || f.Tag == Darwin {
		s.Major, s.Minor = f.Major, f.Minor
	}
	return json.Marshal(s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	var s jsonShape
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s.Type {
	case "glibc":
		*f = Fingerprint{Tag: Glibc, Major: s.Major, Minor: s.Minor}
	case "musl":
		*f = Fingerprint{Tag: Musl}
	case "darwin":
		*f = Fingerprint{Tag: Darwin, Major: s.Major, Minor: s.Minor}
	case "windows":
		*f = Fingerprint{Tag: Windows}
	case "unknown", "":
		*f = Fingerprint{Tag: Unknown}
	default:
		return fmt.Errorf("libc: unrecognized fingerprint type %q", s.Type)
	}
	return nil
}
