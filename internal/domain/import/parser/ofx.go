package parser

import (
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/normalizer"
)

var (
	severityFix = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// SGML files sometimes drop the closing bracket of a bare opening tag.
	tagFix = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityFix.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFix.ReplaceAllString(content, "$1>")
}

// ofxStatement is the part of a bank, card or investment response the parser needs.
type ofxStatement struct {
	acctID       string
	accountType  AccountType
	transactions []ofxgo.Transaction
	skipped      int
}

// parseOFX reads OFX/QFX responses. The signed TRNAMT is authoritative for direction.
func parseOFX(data []byte, fileName string) *ParsedStatement {
	stmt := &ParsedStatement{}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(decodeText(data))))
	if err != nil {
		stmt.Account = accountFromFileName(fileName)
		stmt.warn("failed to parse OFX file: %v", err)
		return stmt
	}

	statements := collectOFXStatements(resp)
	if len(statements) == 0 {
		stmt.Account = accountFromFileName(fileName)
		stmt.warn("OFX file contains no bank, credit card or investment statement")
		return stmt
	}
	if len(statements) > 1 {
		stmt.warn("OFX file contains %d statements; only the first was imported", len(statements))
	}
	src := statements[0]

	stmt.Account = DetectedAccount{
		Institution: strings.TrimSpace(string(resp.Signon.Org)),
		AccountType: src.accountType,
		AccountMask: lastFour(src.acctID),
	}
	if stmt.Account.Institution == "" {
		stmt.Account.Institution = accountFromFileName(fileName).Institution
	}
	if src.skipped > 0 {
		stmt.warn("skipped %d investment trades without a cash amount", src.skipped)
	}

	var zeroAmounts, badAmounts int
	for _, t := range src.transactions {
		cents, err := normalizer.CentsFromDecimal(t.TrnAmt.Rat.FloatString(2))
		if err != nil {
			badAmounts++
			continue
		}
		if cents == 0 {
			zeroAmounts++
			continue
		}

		tx := ParsedTransaction{
			Date:        normalizer.DateOnly(t.DtPosted.Time),
			AmountCents: cents,
			Description: ofxDescription(t),
			Type:        TypeIncome,
			ExternalID:  strings.TrimSpace(string(t.FiTID)),
			CheckNumber: strings.TrimSpace(string(t.CheckNum)),
			Memo:        strings.TrimSpace(string(t.Memo)),
		}
		if t.Payee != nil {
			tx.Merchant = strings.TrimSpace(string(t.Payee.Name))
		}
		if cents < 0 {
			tx.Type = TypeExpense
		}
		stmt.add(tx)
	}

	if zeroAmounts > 0 {
		stmt.warn("skipped %d transactions with zero amounts", zeroAmounts)
	}
	if badAmounts > 0 {
		stmt.warn("skipped %d transactions with invalid amounts", badAmounts)
	}
	return stmt
}

func collectOFXStatements(resp *ofxgo.Response) []ofxStatement {
	var out []ofxStatement

	for _, msg := range resp.Bank {
		if s, ok := msg.(*ofxgo.StatementResponse); ok {
			st := ofxStatement{
				acctID:      string(s.BankAcctFrom.AcctID),
				accountType: bankAccountType(s.BankAcctFrom.AcctType.String()),
			}
			if s.BankTranList != nil {
				st.transactions = s.BankTranList.Transactions
			}
			out = append(out, st)
		}
	}

	for _, msg := range resp.CreditCard {
		if s, ok := msg.(*ofxgo.CCStatementResponse); ok {
			st := ofxStatement{acctID: string(s.CCAcctFrom.AcctID), accountType: AccountCredit}
			if s.BankTranList != nil {
				st.transactions = s.BankTranList.Transactions
			}
			out = append(out, st)
		}
	}

	for _, msg := range resp.InvStmt {
		if s, ok := msg.(*ofxgo.InvStatementResponse); ok {
			st := ofxStatement{acctID: string(s.InvAcctFrom.AcctID), accountType: AccountInvestment}
			if s.InvTranList != nil {
				for _, bt := range s.InvTranList.BankTransactions {
					st.transactions = append(st.transactions, bt.Transactions...)
				}
				st.skipped = len(s.InvTranList.InvTransactions)
			}
			out = append(out, st)
		}
	}

	return out
}

func bankAccountType(ofxType string) AccountType {
	switch ofxType {
	case "CHECKING":
		return AccountChecking
	case "SAVINGS", "MONEYMRKT", "CD":
		return AccountSavings
	case "CREDITLINE":
		return AccountCredit
	}
	return ""
}

// genericNames are NAME values that say less than the MEMO next to them.
var genericNames = map[string]bool{
	"DEBIT": true, "CREDIT": true, "PURCHASE": true, "PAYMENT": true,
	"POS TRANSACTION": true, "CARD PURCHASE": true,
}

func ofxDescription(t ofxgo.Transaction) string {
	name := strings.TrimSpace(string(t.Name))
	if name == "" && t.Payee != nil {
		name = strings.TrimSpace(string(t.Payee.Name))
	}
	memo := strings.TrimSpace(string(t.Memo))
	if memo != "" && (name == "" || genericNames[strings.ToUpper(name)]) {
		name = memo
	}
	return normalizer.CleanDescription(name)
}

func lastFour(acctID string) string {
	var digits []rune
	for _, r := range acctID {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return string(digits)
	}
	return string(digits[len(digits)-4:])
}
