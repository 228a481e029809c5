// Package merchant turns raw statement descriptions into a display name and a stable key.
//
// The key doubles as a cache and rule key, so every spelling of one merchant
// ("NETFLIX.COM", "Netflix", "POS NETFLIX 866-579-7172 CA") must produce the same value.
package merchant

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/forPelevin/gomoji"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Result is the outcome of cleaning one raw description.
type Result struct {
	DisplayName   string `json:"display_name"`
	NormalizedKey string `json:"normalized_key"`
}

// POS and payment-processor prefixes, matched case-insensitively longest first.
var posPrefixes = sortedByLength([]string{
	"POS DEBIT ", "POS PURCHASE ", "POS WITHDRAWAL ", "POS ",
	"DEBIT CARD PURCHASE ", "DEBIT PURCHASE ", "DEBIT ",
	"CHECKCARD ", "CHECK CARD PURCHASE ", "CARD PURCHASE ",
	"PURCHASE AUTHORIZED ON ", "PURCHASE ",
	"RECURRING PAYMENT ", "RECURRING ",
	"ACH DEBIT ", "ACH CREDIT ", "ACH ",
	"VISA DDA PUR ", "DDA ", "VISA ",
	"ONLINE PAYMENT ", "BILL PAY ", "ELECTRONIC PAYMENT ",
	"SQ *", "SQ*", "TST* ", "TST*", "PAYPAL *", "PP*",
	"SP * ", "SP *", "IN *", "BT*", "WPY*", "PY *", "EB *",
})

type alias struct {
	key     string // compact lowercase alnum fragment
	display string
}

// Known-merchant aliases, matched by substring against the compacted residual.
var aliases = sortedAliases([]alias{
	{"netflix", "Netflix"},
	{"spotify", "Spotify"},
	{"hulu", "Hulu"},
	{"disneyplus", "Disney+"},
	{"hbomax", "Max"},
	{"youtubepremium", "YouTube Premium"},
	{"youtube", "YouTube"},
	{"applecombill", "Apple"},
	{"itunes", "Apple"},
	{"amazonprime", "Amazon Prime"},
	{"amznprime", "Amazon Prime"},
	{"primevideo", "Amazon Prime"},
	{"amazon", "Amazon"},
	{"amzn", "Amazon"},
	{"audible", "Audible"},
	{"ubereats", "Uber Eats"},
	{"uber", "Uber"},
	{"lyft", "Lyft"},
	{"doordash", "DoorDash"},
	{"grubhub", "Grubhub"},
	{"starbucks", "Starbucks"},
	{"mcdonald", "McDonald's"},
	{"chipotle", "Chipotle"},
	{"walmart", "Walmart"},
	{"target", "Target"},
	{"costco", "Costco"},
	{"wholefoods", "Whole Foods"},
	{"traderjoe", "Trader Joe's"},
	{"kroger", "Kroger"},
	{"safeway", "Safeway"},
	{"walgreens", "Walgreens"},
	{"cvspharmacy", "CVS"},
	{"homedepot", "The Home Depot"},
	{"lowes", "Lowe's"},
	{"bestbuy", "Best Buy"},
	{"shelloil", "Shell"},
	{"chevron", "Chevron"},
	{"exxon", "Exxon"},
	{"7eleven", "7-Eleven"},
	{"verizon", "Verizon"},
	{"tmobile", "T-Mobile"},
	{"comcast", "Xfinity"},
	{"xfinity", "Xfinity"},
	{"googlestorage", "Google One"},
	{"googleone", "Google One"},
	{"microsoft", "Microsoft"},
	{"adobe", "Adobe"},
	{"dropbox", "Dropbox"},
	{"github", "GitHub"},
	{"openai", "OpenAI"},
	{"chatgpt", "OpenAI"},
	{"planetfitness", "Planet Fitness"},
	{"geico", "GEICO"},
	{"statefarm", "State Farm"},
	{"paypal", "PayPal"},
	{"venmo", "Venmo"},
})

var (
	leadingDate     = regexp.MustCompile(`^\d{1,2}/\d{1,2}(/\d{2,4})?\s+`)
	trailingRef     = regexp.MustCompile(`(\s+|\s*[#*]\s*)\d{4,}[\d\s-]*$`)
	trailingStarRef = regexp.MustCompile(`(?i)\*[A-Z0-9]{6,}$`)
	stateZip        = regexp.MustCompile(`[\s,]+(AL|AK|AZ|AR|CA|CO|CT|DE|DC|FL|GA|HI|ID|IL|IN|IA|KS|KY|LA|ME|MD|MA|MI|MN|MS|MO|MT|NE|NV|NH|NJ|NM|NY|NC|ND|OH|OK|OR|PA|RI|SC|SD|TN|TX|UT|VT|VA|WA|WV|WI|WY)(\s+\d{5}(-\d{4})?)?$`)
	phone           = regexp.MustCompile(`\(?\b\d{3}\)?[-. ]?\d{3}[-. ]\d{4}\b`)
	maskedCard      = regexp.MustCompile(`(?i)\s*(card\s*)?(ending\s*(in\s*)?)?[x*]{2,}[\s-]*\d{2,4}\b`)
	refToken        = regexp.MustCompile(`(?i)\b(ref|auth|conf|trace|trn|ppd id|web id)\s*(#|no\.?|:)?\s*[a-z0-9-]*\d[a-z0-9-]*`)
	multiSpace      = regexp.MustCompile(`\s+`)
)

// Clean canonicalizes a raw description. Empty or whitespace input yields an empty Result.
func Clean(raw string) Result {
	s := multiSpace.ReplaceAllString(strings.TrimSpace(gomoji.RemoveEmojis(raw)), " ")
	if s == "" {
		return Result{}
	}

	s = stripPrefixes(s)
	prefixless := s

	s = stripSuffixes(s)
	if s == "" {
		s = prefixless
	}

	display := lookupAlias(s)
	if display == "" {
		// Casers keep state, so one per call.
		display = cases.Title(language.English).String(strings.ToLower(s))
	}

	return Result{DisplayName: display, NormalizedKey: compact(display)}
}

// Key returns only the normalized key of raw.
func Key(raw string) string {
	return Clean(raw).NormalizedKey
}

func stripPrefixes(s string) string {
	for {
		s = leadingDate.ReplaceAllString(s, "")
		upper := strings.ToUpper(s)
		stripped := false
		for _, p := range posPrefixes {
			if strings.HasPrefix(upper, p) && len(s) > len(p) {
				s = strings.TrimSpace(s[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

// stripSuffixes applies the ordered passes until the string stops changing.
func stripSuffixes(s string) string {
	passes := []func(string) string{
		func(v string) string { return refToken.ReplaceAllString(v, " ") },
		func(v string) string { return maskedCard.ReplaceAllString(v, " ") },
		func(v string) string { return phone.ReplaceAllString(v, " ") },
		func(v string) string { return trailingRef.ReplaceAllString(v, "") },
		func(v string) string { return trailingStarRef.ReplaceAllString(v, "") },
		func(v string) string { return stateZip.ReplaceAllString(v, "") },
	}

	for i := 0; i < 3; i++ {
		before := s
		for _, pass := range passes {
			s = pass(s)
			s = strings.Trim(multiSpace.ReplaceAllString(s, " "), " -*#.,/")
		}
		if s == before {
			break
		}
	}
	return s
}

func lookupAlias(s string) string {
	c := compact(s)
	if c == "" {
		return ""
	}
	for _, a := range aliases {
		if strings.Contains(c, a.key) {
			return a.display
		}
	}
	return ""
}

// compact lowercases s and keeps only letters and digits.
func compact(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func sortedByLength(in []string) []string {
	out := append([]string(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func sortedAliases(in []alias) []alias {
	out := append([]alias(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].key) > len(out[j].key) })
	return out
}
