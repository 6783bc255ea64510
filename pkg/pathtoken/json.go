package pathtoken

import (
	"encoding/json"
	"strings"
)

// Encode renders a Token as the single-string wire form used throughout
// the JSON unit records of spec.md §6: "<anchor>:<rel>" for anchored
// tokens, or the bare absolute path for Verbatim ones so that an
// unanchored path still reads naturally in a dumped JSON blob.
func Encode(tok Token) string {
	switch tok.Anchor {
	case Workspace:
		return "workspace:" + tok.Rel
	case TargetProfile:
		return "target-profile:" + tok.Rel
	case PackageCache:
		return "package-cache:" + tok.Rel
	default:
		return tok.Rel
	}
}

// Decode parses the wire form produced by Encode.
func Decode(s string) Token {
	for anchor, prefix := range map[Anchor]string{
		Workspace:     "workspace:",
		TargetProfile: "target-profile:",
		PackageCache:  "package-cache:",
	} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			return Token{Anchor: anchor, Rel: rest}
		}
	}
	return Token{Anchor: Verbatim, Rel: s}
}

// MarshalJSON implements json.Marshaler.
func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(Encode(t))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Token) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = Decode(s)
	return nil
}
