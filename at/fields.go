package at

import "bytes"

// Fields iterates the comma-separated fields following a line's leading
// token. Accessors consume one field each, even when the parse fails, so a
// handler can step over fields it does not care about.
type Fields struct {
	rest []byte
}

// Empty reports whether any field data remains.
func (f *Fields) Empty() bool {
	return len(f.rest) == 0
}

// Count returns the number of remaining fields without consuming them.
// Some events change layout with their field count, e.g. network
// registration reports with and without location data.
func (f *Fields) Count() int {
	if len(f.rest) == 0 {
		return 0
	}
	return bytes.Count(f.rest, []byte{','}) + 1
}

func (f *Fields) next() ([]byte, bool) {
	if len(f.rest) == 0 {
		return nil, false
	}
	if i := bytes.IndexByte(f.rest, ','); i >= 0 {
		field := f.rest[:i]
		f.rest = f.rest[i+1:]
		return field, true
	}
	field := f.rest
	f.rest = nil
	return field, true
}

// Int consumes one field as a signed decimal integer. The field must consist
// of an optional leading minus sign and at least one digit, with no other
// characters.
func (f *Fields) Int() (int, bool) {
	field, ok := f.next()
	if !ok {
		return 0, false
	}
	neg := false
	if len(field) > 0 && field[0] == '-' {
		neg = true
		field = field[1:]
	}
	if len(field) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}

// Tag consumes one field and returns its hash, for dispatching on textual
// field values like "READY" without a string compare.
func (f *Fields) Tag() (Tag, bool) {
	field, ok := f.next()
	if !ok {
		return 0, false
	}
	t := fnvBasis
	for _, c := range field {
		t = t.Add(c)
	}
	return t, true
}

// Text consumes one field and returns it verbatim.
func (f *Fields) Text() (string, bool) {
	field, ok := f.next()
	return string(field), ok
}

// String returns the unconsumed remainder. It does not advance the iterator
// and is intended for diagnostics and logging.
func (f *Fields) String() string {
	return string(f.rest)
}
