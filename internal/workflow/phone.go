package workflow

import (
	"regexp"
	"strings"
)

var (
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "", "\u00a0", "")
	phonePattern    = regexp.MustCompile(`^\+?[1-9]\d{9,14}$`)
	phoneCandidate  = regexp.MustCompile(`\+?\d[\d\s\-().]{8,}\d`)
)

// NormalizePhone returns the number in E.164 form. A bare 10-digit local
// number (optionally with a leading 0 trunk prefix) gets the default country code.
func NormalizePhone(raw, defaultCountry string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.IndexFunc(s, isLetter) >= 0 {
		// "my number is 98765 43210"
		s = phoneCandidate.FindString(s)
	}
	s = phoneSeparators.Replace(s)
	if s == "" {
		return "", false
	}

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	if !strings.HasPrefix(s, "+") {
		if len(s) == 11 && s[0] == '0' {
			s = s[1:]
		}
		if len(s) == 10 {
			s = "+" + strings.TrimPrefix(defaultCountry, "+") + s
		}
	}

	if !phonePattern.MatchString(s) {
		return "", false
	}
	if !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	return s, true
}

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
