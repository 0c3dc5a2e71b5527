package custmatch

import (
	"strings"
)

// Signal weights. Fuzzy name is mutually exclusive with exact name, domain
// match with exact email. The sum is capped at 100.
const (
	weightTaxCode     = 50
	weightEmail       = 35
	weightNameExact   = 30
	weightPhone       = 25
	weightNameFuzzy   = 20
	weightEmailDomain = 15

	maxScore = 100
)

// Score rates how likely an external identity and a local customer are the
// same entity. Pure function: identical inputs always produce the identical
// score and reason list.
func Score(ext ExternalIdentity, local LocalCustomer) (int, []string) {
	var score int
	var reasons []string

	if ext.TaxCode != "" && strings.TrimSpace(ext.TaxCode) == strings.TrimSpace(local.TaxCode) {
		score += weightTaxCode
		reasons = append(reasons, "tax code match")
	}

	extEmail := strings.ToLower(strings.TrimSpace(ext.Email))
	localEmail := strings.ToLower(strings.TrimSpace(local.Email))
	switch {
	case extEmail != "" && extEmail == localEmail:
		score += weightEmail
		reasons = append(reasons, "email match")
	case emailDomain(extEmail) != "" && emailDomain(extEmail) == emailDomain(localEmail):
		score += weightEmailDomain
		reasons = append(reasons, "email domain match")
	}

	if p := normalizePhone(ext.Phone); p != "" && p == normalizePhone(local.Phone) {
		score += weightPhone
		reasons = append(reasons, "phone match")
	}

	extName := normalizeName(ext.Name)
	localName := normalizeName(local.Name)
	switch {
	case extName != "" && extName == localName:
		score += weightNameExact
		reasons = append(reasons, "name match")
	case fuzzyNameMatch(extName, localName):
		score += weightNameFuzzy
		reasons = append(reasons, "name similar")
	}

	if score > maxScore {
		score = maxScore
	}
	return score, reasons
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

// normalizePhone strips everything but digits, then drops an international
// or trunk prefix so "+40 721 000 111", "0040721000111" and "0721000111"
// compare equal.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	digits = strings.TrimPrefix(digits, "00")
	if len(digits) > 10 {
		// Remaining leading digits are a country code.
		digits = digits[len(digits)-9:]
	}
	digits = strings.TrimPrefix(digits, "0")
	if len(digits) < 6 {
		return ""
	}
	return digits
}

// legalSuffixes are dropped before comparing company names.
var legalSuffixes = []string{"srl", "s.r.l.", "sa", "s.a.", "pfa", "srl-d", "ltd", "llc", "gmbh"}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	fields := strings.Fields(name)
	for len(fields) > 1 {
		last := fields[len(fields)-1]
		trimmed := false
		for _, suffix := range legalSuffixes {
			if last == suffix {
				fields = fields[:len(fields)-1]
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
	}
	return strings.Join(fields, " ")
}

// fuzzyNameMatch accepts containment of one normalized name in the other, or
// a small edit distance relative to length.
func fuzzyNameMatch(a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	if len(a) >= 4 && len(b) >= 4 && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return true
	}
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	if shorter < 5 {
		return false
	}
	limit := shorter / 5
	if limit < 1 {
		limit = 1
	}
	return editDistance(a, b) <= limit
}

// editDistance is the Levenshtein distance over bytes with a single rolling
// row.
func editDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		current := prev[0]
		prev[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			next := min3(prev[j]+1, prev[j-1]+1, current+cost)
			current = prev[j]
			prev[j] = next
		}
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
