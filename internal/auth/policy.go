package auth

import "unicode/utf8"

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// Policy rule names reported in PolicyViolation.Rule.
const (
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RuleLowercase = "lowercase"
	RuleUppercase = "uppercase"
	RuleDigit     = "digit"
)

// PolicyViolation names the first password rule that failed.
type PolicyViolation struct {
	Rule    string
	Message string
}

func (e *PolicyViolation) Error() string {
	return e.Message
}

// Unwrap lets callers test for ErrWeakPassword.
func (e *PolicyViolation) Unwrap() error {
	return ErrWeakPassword
}

// ValidatePolicy checks a decrypted password. It never sees ciphertext.
func ValidatePolicy(plaintext string) error {
	n := utf8.RuneCountInString(plaintext)
	if n < minPasswordLength {
		return &PolicyViolation{Rule: RuleMinLength, Message: "password must be at least 8 characters"}
	}
	if n > maxPasswordLength {
		return &PolicyViolation{Rule: RuleMaxLength, Message: "password must be at most 128 characters"}
	}

	// Only ASCII counts towards the character classes; other runes are
	// allowed but satisfy none of them.
	var lower, upper, digit bool
	for _, r := range plaintext {
		switch {
		case 'a' <= r && r <= 'z':
			lower = true
		case 'A' <= r && r <= 'Z':
			upper = true
		case '0' <= r && r <= '9':
			digit = true
		}
	}

	switch {
	case !lower:
		return &PolicyViolation{Rule: RuleLowercase, Message: "password must contain a lowercase letter"}
	case !upper:
		return &PolicyViolation{Rule: RuleUppercase, Message: "password must contain an uppercase letter"}
	case !digit:
		return &PolicyViolation{Rule: RuleDigit, Message: "password must contain a digit"}
	}
	return nil
}
