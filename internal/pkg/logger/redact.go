package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactDigits keeps only the last four digits of an identifier.
// "123-45-6789" → "***6789"
func RedactDigits(val string) string {
	var digits []byte
	for i := 0; i < len(val); i++ {
		if val[i] >= '0' && val[i] <= '9' {
			digits = append(digits, val[i])
		}
	}
	if len(digits) <= 4 {
		return "***"
	}
	return "***" + string(digits[len(digits)-4:])
}
