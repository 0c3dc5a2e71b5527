package custmatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreTaxCodePlusExactNameIsHigh(t *testing.T) {
	ext := ExternalIdentity{Name: "Combined SRL", TaxCode: "RO99999999"}
	local := LocalCustomer{ID: 1, Name: "Combined SRL", TaxCode: "RO99999999"}

	score, reasons := Score(ext, local)
	require.Equal(t, 80, score)
	require.Equal(t, ConfidenceHigh, BandFor(score))
	require.Equal(t, []string{"tax code match", "name match"}, reasons)
}

func TestScoreIsDeterministic(t *testing.T) {
	ext := ExternalIdentity{Name: "Acme SRL", TaxCode: "RO123", Email: "office@acme.ro", Phone: "+40 721 000 111"}
	local := LocalCustomer{ID: 7, Name: "ACME", TaxCode: "RO123", Email: "office@acme.ro", Phone: "0721000111"}

	firstScore, firstReasons := Score(ext, local)
	for i := 0; i < 10; i++ {
		score, reasons := Score(ext, local)
		require.Equal(t, firstScore, score)
		require.Equal(t, firstReasons, reasons)
	}
}

func TestScoreCapsAtHundred(t *testing.T) {
	ext := ExternalIdentity{Name: "Total Match SRL", TaxCode: "RO55", Email: "a@b.ro", Phone: "0722111222"}
	local := LocalCustomer{ID: 2, Name: "total match", TaxCode: "RO55", Email: "A@B.RO", Phone: "+40722111222"}

	// 50 + 35 + 25 + 30 = 140 before the cap.
	score, reasons := Score(ext, local)
	require.Equal(t, 100, score)
	require.Len(t, reasons, 4)
}

func TestScoreFuzzyNameExcludesExact(t *testing.T) {
	ext := ExternalIdentity{Name: "Northwind Trading SRL"}
	local := LocalCustomer{ID: 3, Name: "Northwind Trading International"}

	score, reasons := Score(ext, local)
	require.Equal(t, weightNameFuzzy, score)
	require.Equal(t, []string{"name similar"}, reasons)
}

func TestScoreEmailDomainExcludesExactEmail(t *testing.T) {
	ext := ExternalIdentity{Name: "X", Email: "invoices@corp.ro"}
	local := LocalCustomer{ID: 4, Name: "Y", Email: "office@corp.ro"}

	score, reasons := Score(ext, local)
	require.Equal(t, weightEmailDomain, score)
	require.Equal(t, []string{"email domain match"}, reasons)
}

func TestScoreTaxCodeIsCaseSensitive(t *testing.T) {
	ext := ExternalIdentity{Name: "A", TaxCode: "ro123"}
	local := LocalCustomer{ID: 5, Name: "B", TaxCode: "RO123"}

	score, _ := Score(ext, local)
	require.Zero(t, score)
}

func TestScoreNoSignals(t *testing.T) {
	ext := ExternalIdentity{Name: "Alpha SRL", Email: "a@alpha.ro"}
	local := LocalCustomer{ID: 6, Name: "Omega SA", Email: "o@omega.ro"}

	score, reasons := Score(ext, local)
	require.Zero(t, score)
	require.Empty(t, reasons)
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+40 721 000 111", "721000111"},
		{"0040721000111", "721000111"},
		{"0721000111", "721000111"},
		{"0721-000-111", "721000111"},
		{"123", ""},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, normalizePhone(tc.in), "normalizePhone(%q)", tc.in)
	}
}

func TestNormalizeNameDropsLegalSuffix(t *testing.T) {
	require.Equal(t, "acme", normalizeName("  ACME SRL "))
	require.Equal(t, "acme", normalizeName("Acme S.R.L."))
	require.Equal(t, "srl", normalizeName("SRL"), "a bare suffix is still a name")
}

func TestEditDistance(t *testing.T) {
	require.Equal(t, 0, editDistance("abc", "abc"))
	require.Equal(t, 1, editDistance("abc", "abd"))
	require.Equal(t, 3, editDistance("", "abc"))
	require.Equal(t, 2, editDistance("kitten", "sittin"))
}
