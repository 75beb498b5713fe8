package at

// 32-bit FNV-1a parameters.
const (
	fnvBasis Tag = 2166136261
	fnvPrime Tag = 16777619
)

// Tag is the FNV-1a hash of a line's leading token. Response dispatch
// compares tags instead of strings, so a handler for an unsolicited
// notification is a single switch case.
type Tag uint32

// Add folds one byte into the tag.
func (t Tag) Add(c byte) Tag {
	return (t ^ Tag(c)) * fnvPrime
}

// Hash computes the tag of s.
func Hash(s string) Tag {
	t := fnvBasis
	for i := 0; i < len(s); i++ {
		t = t.Add(s[i])
	}
	return t
}

// ScanLine splits a received line into the leading-token tag and the fields
// that follow it.
//
// The token ends at a colon, which is excluded from the tag; one space after
// the colon is skipped so "+CSQ: 15,99" leaves the fields at "15,99". A comma
// also ends the token but is included in the tag, which disambiguates events
// that separate the token from its first field with a bare comma. A purely
// numeric prefix before a comma is discarded and scanning restarts after it,
// so "0, CONNECT OK" is tagged "CONNECT OK".
func ScanLine(line []byte) (Tag, Fields) {
	t := fnvBasis
	digits := true
	i := 0
scan:
	for i < len(line) {
		c := line[i]
		switch {
		case c == ':':
			i++
			if i < len(line) && line[i] == ' ' {
				i++
			}
			break scan
		case c == ',' && digits:
			t = fnvBasis
			i++
			if i < len(line) && line[i] == ' ' {
				i++
			}
		case c == ',':
			t = t.Add(c)
			i++
			break scan
		default:
			if c < '0' || c > '9' {
				digits = false
			}
			t = t.Add(c)
			i++
		}
	}
	return t, Fields{rest: line[i:]}
}
