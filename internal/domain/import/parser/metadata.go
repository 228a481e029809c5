package parser

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

type institution struct {
	name string
	// keys are compared against filename tokens; keys of five or more
	// characters may also match inside the compacted filename.
	keys []string
	text *regexp.Regexp
}

var institutions = []institution{
	{"Chase", []string{"chase", "jpmorgan"}, regexp.MustCompile(`(?i)\b(jp ?morgan )?chase\b`)},
	{"Bank of America", []string{"bankofamerica", "boa", "bofa"}, regexp.MustCompile(`(?i)\bbank of america\b`)},
	{"Wells Fargo", []string{"wellsfargo", "wf"}, regexp.MustCompile(`(?i)\bwells fargo\b`)},
	{"Citi", []string{"citibank", "citi"}, regexp.MustCompile(`(?i)\bciti(bank)?\b`)},
	{"Capital One", []string{"capitalone", "capone"}, regexp.MustCompile(`(?i)\bcapital one\b`)},
	{"American Express", []string{"americanexpress", "amex"}, regexp.MustCompile(`(?i)\b(american express|amex)\b`)},
	{"Discover", []string{"discover"}, regexp.MustCompile(`(?i)\bdiscover (bank|card)\b`)},
	{"U.S. Bank", []string{"usbank"}, regexp.MustCompile(`(?i)\bu\.?s\.? bank\b`)},
	{"PNC", []string{"pnc"}, regexp.MustCompile(`(?i)\bpnc\b`)},
	{"TD Bank", []string{"tdbank", "td"}, regexp.MustCompile(`(?i)\btd bank\b`)},
	{"Ally", []string{"ally"}, regexp.MustCompile(`(?i)\bally bank\b`)},
	{"Charles Schwab", []string{"schwab"}, regexp.MustCompile(`(?i)\bschwab\b`)},
	{"Fidelity", []string{"fidelity"}, regexp.MustCompile(`(?i)\bfidelity\b`)},
	{"Vanguard", []string{"vanguard"}, regexp.MustCompile(`(?i)\bvanguard\b`)},
	{"Navy Federal", []string{"navyfederal", "nfcu"}, regexp.MustCompile(`(?i)\bnavy federal\b`)},
	{"USAA", []string{"usaa"}, regexp.MustCompile(`(?i)\busaa\b`)},
	{"Barclays", []string{"barclays"}, regexp.MustCompile(`(?i)\bbarclays\b`)},
	{"HSBC", []string{"hsbc"}, regexp.MustCompile(`(?i)\bhsbc\b`)},
	{"Santander", []string{"santander"}, regexp.MustCompile(`(?i)\bsantander\b`)},
	{"Revolut", []string{"revolut"}, regexp.MustCompile(`(?i)\brevolut\b`)},
}

type accountKeyword struct {
	accountType AccountType
	keys        []string
}

// Order matters: the first type with a matching key wins.
var accountTypeKeywords = []accountKeyword{
	{AccountCredit, []string{"creditcard", "credit", "card", "visa", "mastercard", "amex"}},
	{AccountSavings, []string{"savings", "saving", "moneymarket"}},
	{AccountChecking, []string{"checking", "chequing", "current"}},
	{AccountInvestment, []string{"brokerage", "investment", "ira", "401k", "invest"}},
}

var (
	fileMaskMarked = regexp.MustCompile(`(?i)(?:x+|\*+|#|ending|acct|account|card)[\s_-]*(\d{4})(?:\D|$)`)
	fileDigits     = regexp.MustCompile(`\d+`)
)

// accountFromFileName infers account metadata from keywords and a last-four pattern in the file name.
func accountFromFileName(fileName string) DetectedAccount {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	if base == "" || base == "." {
		return DetectedAccount{}
	}

	tokens := strings.FieldsFunc(strings.ToLower(base), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	joined := strings.Join(tokens, "")

	var acct DetectedAccount
	for _, inst := range institutions {
		if matchesKeys(tokens, joined, inst.keys) {
			acct.Institution = inst.name
			break
		}
	}
	for _, kw := range accountTypeKeywords {
		if matchesKeys(tokens, joined, kw.keys) {
			acct.AccountType = kw.accountType
			break
		}
	}
	acct.AccountMask = maskFromFileName(base)
	return acct
}

func matchesKeys(tokens []string, joined string, keys []string) bool {
	for _, k := range keys {
		if len(k) >= 5 && strings.Contains(joined, k) {
			return true
		}
		for _, t := range tokens {
			if t == k {
				return true
			}
		}
	}
	return false
}

// maskFromFileName prefers an explicitly marked last-four ("x1234", "ending 1234");
// otherwise it takes the last standalone four-digit run that does not look like a year.
func maskFromFileName(base string) string {
	if m := fileMaskMarked.FindAllStringSubmatch(base, -1); len(m) > 0 {
		return m[len(m)-1][1]
	}
	runs := fileDigits.FindAllString(base, -1)
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		if len(r) != 4 || looksLikeYear(r) {
			continue
		}
		return r
	}
	return ""
}

func looksLikeYear(s string) bool {
	return strings.HasPrefix(s, "19") || strings.HasPrefix(s, "20")
}

// institutionFromText returns the first known institution named in text.
func institutionFromText(text string) string {
	best, bestPos := "", -1
	for _, inst := range institutions {
		loc := inst.text.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if bestPos == -1 || loc[0] < bestPos {
			best, bestPos = inst.name, loc[0]
		}
	}
	return best
}
