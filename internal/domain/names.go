package domain

// MaxNameLength bounds account and room names.
const MaxNameLength = 50

// MaxSecretLength bounds account secrets.
const MaxSecretLength = 128

// ValidName reports whether s can be used as an account or room name.
// Names are 1 to MaxNameLength bytes of [A-Za-z0-9_.-]; the snapshot
// delimiters ':' and ',' can therefore never appear in a name.
func ValidName(s string) bool {
	if len(s) == 0 || len(s) > MaxNameLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '.', c == '-':
		default:
			return false
		}
	}
	return true
}

// ValidSecret reports whether s can be stored as a secret: non-empty, at
// most MaxSecretLength bytes, no whitespace or control characters.
func ValidSecret(s string) bool {
	if len(s) == 0 || len(s) > MaxSecretLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] == 0x7f {
			return false
		}
	}
	return true
}
