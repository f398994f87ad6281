package protocol

// MaxNameLength bounds usernames, room names and room passwords.
const MaxNameLength = 32

// IsValidName reports whether s is 1..MaxNameLength characters drawn from
// ASCII letters, digits and underscore.
func IsValidName(s string) bool {
	if s == "" || len(s) > MaxNameLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}

// IsValidPassword applies the name rule to a room password. The empty
// password is valid and means the room is unrestricted.
func IsValidPassword(s string) bool {
	return s == "" || IsValidName(s)
}
