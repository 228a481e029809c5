package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/normalizer"
)

type textOptions struct {
	now func() time.Time
	// metadataWindow limits account/institution scanning to the statement header.
	metadataWindow int
	// maxContinuation bounds how many description lines a pending row may absorb.
	maxContinuation int
}

func defaultTextOptions() textOptions {
	return textOptions{now: time.Now, metadataWindow: 2000, maxContinuation: 4}
}

type textLayout int

const (
	layoutSection textLayout = iota
	layoutColumn
)

var (
	sectionHeader = regexp.MustCompile(`(?i)^((details of )?(your )?account (activity|transactions)|transaction (history|details?|activity)|activity details?|your transactions|transactions)\s*:?$`)

	incomeHeading   = regexp.MustCompile(`(?i)^(deposits?|deposits? and (other )?(additions|credits)|other credits|credits|additions|electronic deposits|interest (paid|earned)|incoming transfers)\s*:?$`)
	expenseHeading  = regexp.MustCompile(`(?i)^(withdrawals?|withdrawals? and (other )?(subtractions|debits)|other (withdrawals|debits|subtractions)|debits|subtractions|checks?( paid)?|atm (and|&) debit card withdrawals|card purchases|(electronic|online) (payments|withdrawals)|payments( and other debits)?|fees( and charges)?|service (fees|charges)|purchases)\s*:?$`)
	transferHeading = regexp.MustCompile(`(?i)^(transfers?|account transfers)\s*:?$`)

	depositColumn    = regexp.MustCompile(`(?i)\b(deposits?|credits?|additions)\b`)
	withdrawalColumn = regexp.MustCompile(`(?i)\b(withdrawals?|debits?|subtractions|payments)\b`)

	endMarker      = regexp.MustCompile(`(?i)^(daily (ending |ledger )?balances?( summary)?|balance summary|ending balance|closing balance|important (information|disclosures|notices?)|disclosures?|fee schedule|schedule of fees|summary of fees|in case of errors|overdraft (and returned item )?fees?)\b`)
	subtotalLine   = regexp.MustCompile(`(?i)^(sub)?totals?\b`)
	continuedToken = regexp.MustCompile(`(?i)\(continued\)|\bcontinued on (the )?next page\b`)
	pageFooter     = regexp.MustCompile(`(?i)^(page\s+\d+(\s+of\s+\d+)?|\d+\s+of\s+\d+|-\s*\d+\s*-)$`)

	datedLine    = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\s+(.+)$`)
	secondDate   = regexp.MustCompile(`^\d{1,2}/\d{1,2}(/\d{2,4})?\s+`)
	moneyToken   = regexp.MustCompile(`^\(?[-+]?\$?[-+]?(\d{1,3}(,\d{3})+|\d+)\.\d{2}\)?-?$`)
	openingLabel = regexp.MustCompile(`(?i)^((beginning|opening|starting|previous) balance|balance forward)\b`)
	closingLabel = regexp.MustCompile(`(?i)^(ending|closing) balance\b`)

	openingBalance = regexp.MustCompile(`(?i)(?:(?:beginning|opening|starting|previous) balance|balance forward)(?:\s+(?:on|as of)\s+[A-Za-z0-9/ ,]+?)?[\s:$]*(\(?-?\$?\d[\d,]*\.\d{2}\)?)`)

	headerNumericDate = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/(\d{4}|\d{2})\b`)
	headerNamedDate   = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2}),?\s+(\d{4})\b`)

	incomeKeywords = regexp.MustCompile(`(?i)\b(deposits?|direct dep|dir dep|payroll|salary|refund|interest|dividend|credit|reversal|cash ?back|rebate|reimbursement|transfer from|received|incoming)\b`)
)

var textMaskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ending\s+in\s*:?\s*(\d{4})\b`),
	regexp.MustCompile(`(?i)(?:x{2,}|\*{2,}|•{2,})[\s-]*(\d{4})\b`),
	regexp.MustCompile(`(?i)(?:account|acct|card)\s*(?:number|no\.?|#)\s*:?\s*(\d[\d\- ]{2,}\d)`),
}

var textAccountTypes = []struct {
	accountType AccountType
	pattern     *regexp.Regexp
}{
	{AccountCredit, regexp.MustCompile(`(?i)\b(credit card|card ?member|minimum payment due|credit limit)\b`)},
	{AccountChecking, regexp.MustCompile(`(?i)\bchecking\b`)},
	{AccountSavings, regexp.MustCompile(`(?i)\b(savings|money market)\b`)},
	{AccountInvestment, regexp.MustCompile(`(?i)\b(brokerage|investment account|portfolio)\b`)},
}

var accountNameLine = regexp.MustCompile(`(?im)^[ \t]*([A-Za-z][A-Za-z+&' ]{2,40}(checking|savings|card))[ \t]*$`)

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

type textRow struct {
	date    time.Time
	desc    string
	amount  int64
	balance *int64
	typ     TransactionType
}

type pendingRow struct {
	date  time.Time
	desc  []string
	lines int
}

type textWalker struct {
	opts        textOptions
	layout      textLayout
	periodEnd   time.Time
	currentType TransactionType
	pending     *pendingRow
	rows        []textRow
	opening     *int64

	droppedPending int
	untyped        int
	yearAssumed    int
}

// parseText reconstructs transactions from text extracted from a statement document.
func parseText(data []byte, fileName string, opts textOptions) *ParsedStatement {
	stmt := &ParsedStatement{}
	if IsBinaryPDF(data) {
		stmt.Account = accountFromFileName(fileName)
		stmt.warn("binary PDF document, extract its text before importing")
		return stmt
	}
	text := decodeText(data)
	if strings.TrimSpace(text) == "" {
		stmt.Account = accountFromFileName(fileName)
		stmt.warn("document contains no text")
		return stmt
	}

	header := leadingRunes(text, opts.metadataWindow)
	stmt.Account = accountFromText(header)
	fromName := accountFromFileName(fileName)
	if stmt.Account.Institution == "" {
		stmt.Account.Institution = fromName.Institution
	}
	if stmt.Account.AccountType == "" {
		stmt.Account.AccountType = fromName.AccountType
	}
	if stmt.Account.AccountMask == "" {
		stmt.Account.AccountMask = fromName.AccountMask
	}

	lines := strings.Split(text, "\n")
	start, found := findTransactionSection(lines)
	if !found {
		stmt.warn("could not locate a transaction section; scanned the whole document")
	}

	w := &textWalker{
		opts:      opts,
		layout:    classifyLayout(lines, start),
		periodEnd: statementPeriodEnd(header),
	}
	if m := openingBalance.FindStringSubmatch(text); m != nil {
		if v, err := normalizer.ParseAmount(m[1], false); err == nil {
			w.opening = &v
		}
	}

	w.walk(lines[start:])

	switch w.layout {
	case layoutColumn:
		w.solveColumnSigns(stmt)
	default:
		for _, r := range w.rows {
			stmt.add(ParsedTransaction{Date: r.date, AmountCents: r.amount, Description: r.desc, Type: r.typ})
		}
		if w.untyped > 0 {
			stmt.warn("%d transactions appeared outside a deposits/withdrawals section; direction inferred from description keywords", w.untyped)
		}
	}

	if w.droppedPending > 0 {
		stmt.warn("skipped %d transaction lines without amounts", w.droppedPending)
	}
	if w.yearAssumed > 0 {
		stmt.warn("statement year not found; assumed %d for %d transactions", opts.now().Year(), w.yearAssumed)
	}
	return stmt
}

func accountFromText(header string) DetectedAccount {
	acct := DetectedAccount{Institution: institutionFromText(header)}

	bestPos := -1
	for _, at := range textAccountTypes {
		loc := at.pattern.FindStringIndex(header)
		if loc != nil && (bestPos == -1 || loc[0] < bestPos) {
			acct.AccountType, bestPos = at.accountType, loc[0]
		}
	}

	for _, p := range textMaskPatterns {
		if m := p.FindStringSubmatch(header); m != nil {
			acct.AccountMask = lastFour(m[1])
			break
		}
	}

	if m := accountNameLine.FindStringSubmatch(header); m != nil {
		acct.AccountName = strings.TrimSpace(m[1])
	}
	return acct
}

// findTransactionSection returns the index of the transaction-history header,
// falling back to the first deposits/withdrawals sub-heading.
func findTransactionSection(lines []string) (int, bool) {
	for i, raw := range lines {
		l := headingText(raw)
		if len(l) <= 60 && sectionHeader.MatchString(l) {
			return i, true
		}
	}
	for i, raw := range lines {
		if _, ok := headingType(headingText(raw)); ok {
			return i, true
		}
	}
	return 0, false
}

// classifyLayout samples the lines right after the table start. A line naming both
// deposits and withdrawals is a column header; otherwise sub-headings gate the type.
func classifyLayout(lines []string, start int) textLayout {
	seen := 0
	for i := start; i < len(lines) && seen < 10; i++ {
		l := strings.TrimSpace(lines[i])
		if l == "" {
			continue
		}
		seen++
		if depositColumn.MatchString(l) && withdrawalColumn.MatchString(l) {
			return layoutColumn
		}
	}
	return layoutSection
}

func statementPeriodEnd(header string) time.Time {
	var latest time.Time
	for _, s := range headerNumericDate.FindAllString(header, -1) {
		if t, err := normalizer.ParseStatementDate(s); err == nil && t.After(latest) {
			latest = t
		}
	}
	for _, m := range headerNamedDate.FindAllStringSubmatch(header, -1) {
		month := monthIndex[strings.ToLower(m[1])]
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if t, ok := normalizer.CalendarDate(year, int(month), day); ok && t.After(latest) {
			latest = t
		}
	}
	return latest
}

func headingText(raw string) string {
	return strings.TrimSpace(continuedToken.ReplaceAllString(strings.TrimSpace(raw), ""))
}

func headingType(line string) (TransactionType, bool) {
	switch {
	case incomeHeading.MatchString(line):
		return TypeIncome, true
	case expenseHeading.MatchString(line):
		return TypeExpense, true
	case transferHeading.MatchString(line):
		return TypeTransfer, true
	}
	return "", false
}

func (w *textWalker) walk(lines []string) {
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || pageFooter.MatchString(line) {
			continue
		}
		line = headingText(line)
		if line == "" {
			continue
		}

		if m := datedLine.FindStringSubmatch(line); m != nil {
			if date, ok := w.resolveDate(m[1], m[2], m[3]); ok {
				w.dropPending()
				w.startRow(date, m[4])
				continue
			}
		}

		if t, ok := headingType(line); ok {
			w.dropPending()
			w.currentType = t
			continue
		}
		if subtotalLine.MatchString(line) {
			w.dropPending()
			continue
		}
		if endMarker.MatchString(line) {
			break
		}

		if w.pending != nil {
			desc, amounts := splitTrailingAmounts(line)
			if desc != "" {
				w.pending.desc = append(w.pending.desc, desc)
			}
			if len(amounts) > 0 {
				p := w.pending
				w.pending = nil
				w.complete(p.date, strings.Join(p.desc, " "), amounts)
				continue
			}
			w.pending.lines++
			if w.pending.lines > w.opts.maxContinuation {
				w.dropPending()
			}
		}
	}
	w.dropPending()
}

func (w *textWalker) dropPending() {
	if w.pending != nil {
		w.droppedPending++
		w.pending = nil
	}
}

func (w *textWalker) resolveDate(monthStr, dayStr, yearStr string) (time.Time, bool) {
	month, _ := strconv.Atoi(monthStr)
	day, _ := strconv.Atoi(dayStr)

	var year int
	switch {
	case yearStr != "":
		year, _ = strconv.Atoi(yearStr)
		if len(yearStr) == 2 {
			year += 2000
		}
	case !w.periodEnd.IsZero():
		year = w.periodEnd.Year()
		// A December line on a January statement belongs to the previous year.
		if month > int(w.periodEnd.Month()) {
			year--
		}
	default:
		year = w.opts.now().Year()
		w.yearAssumed++
	}
	return normalizer.CalendarDate(year, month, day)
}

func (w *textWalker) startRow(date time.Time, rest string) {
	rest = secondDate.ReplaceAllString(rest, "")
	desc, amounts := splitTrailingAmounts(rest)
	if len(amounts) == 0 {
		w.pending = &pendingRow{date: date}
		if desc != "" {
			w.pending.desc = []string{desc}
		}
		return
	}
	w.complete(date, desc, amounts)
}

func (w *textWalker) complete(date time.Time, desc string, amounts []int64) {
	desc = normalizer.CleanDescription(desc)
	if openingLabel.MatchString(desc) {
		if w.opening == nil {
			v := amounts[len(amounts)-1]
			w.opening = &v
		}
		return
	}
	if closingLabel.MatchString(desc) {
		return
	}

	row := textRow{date: date, desc: desc, amount: abs(amounts[0])}
	if row.amount == 0 {
		return
	}

	switch w.layout {
	case layoutColumn:
		if len(amounts) >= 2 {
			b := amounts[len(amounts)-1]
			row.balance = &b
		}
	default:
		switch {
		case w.currentType != "":
			row.typ = w.currentType
		case amounts[0] < 0:
			row.typ = TypeExpense
		default:
			row.typ = keywordType(desc)
			w.untyped++
		}
	}
	w.rows = append(w.rows, row)
}

type dayGroup struct {
	date    time.Time
	rows    []int
	balance *int64
}

// solveColumnSigns walks days in statement order, reconciling each day's unsigned
// amounts against the change in running balance.
func (w *textWalker) solveColumnSigns(stmt *ParsedStatement) {
	var days []*dayGroup
	byDate := map[time.Time]*dayGroup{}
	for i, r := range w.rows {
		d, ok := byDate[r.date]
		if !ok {
			d = &dayGroup{date: r.date}
			byDate[r.date] = d
			days = append(days, d)
		}
		d.rows = append(d.rows, i)
		if r.balance != nil {
			d.balance = r.balance
		}
	}

	running := w.opening
	unresolved := 0
	for _, d := range days {
		solved := false
		if d.balance != nil && running != nil {
			amounts := make([]int64, len(d.rows))
			for i, idx := range d.rows {
				amounts[i] = w.rows[idx].amount
			}
			if mask, ok := SolveSigns(amounts, *d.balance-*running); ok {
				for i, idx := range d.rows {
					if mask&(1<<i) != 0 {
						w.rows[idx].typ = TypeIncome
					} else {
						w.rows[idx].typ = TypeExpense
					}
				}
				solved = true
			}
		}
		if !solved {
			for _, idx := range d.rows {
				w.rows[idx].typ = keywordType(w.rows[idx].desc)
			}
			unresolved += len(d.rows)
		}
		running = d.balance
	}

	for _, r := range w.rows {
		stmt.add(ParsedTransaction{Date: r.date, AmountCents: r.amount, Description: r.desc, Type: r.typ})
	}
	if unresolved > 0 {
		stmt.warn("could not reconcile daily balances for %d transactions; direction inferred from description keywords", unresolved)
	}
}

// splitTrailingAmounts peels money tokens off the end of a line.
func splitTrailingAmounts(s string) (string, []int64) {
	fields := strings.Fields(s)
	end := len(fields)
	var tokens []string
	for end > 0 {
		f := fields[end-1]
		if f == "$" {
			end--
			continue
		}
		if !moneyToken.MatchString(f) {
			break
		}
		tokens = append(tokens, f)
		end--
	}

	amounts := make([]int64, 0, len(tokens))
	for i := len(tokens) - 1; i >= 0; i-- {
		v, err := normalizer.ParseAmount(tokens[i], false)
		if err != nil {
			continue
		}
		amounts = append(amounts, v)
	}
	return strings.Join(fields[:end], " "), amounts
}

func keywordType(desc string) TransactionType {
	if incomeKeywords.MatchString(desc) {
		return TypeIncome
	}
	return TypeExpense
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// leadingRunes returns at most n runes from the start of s.
func leadingRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
