package receipts

import (
	"net/url"
	"regexp"
	"strings"

	"bookstore-backend/internal/apperr"
)

const (
	CodeCBE      = "CBE"
	CodeTelebirr = "TELEBIRR"
	CodeDashen   = "DASHEN"
)

// Bank describes how one bank formats references and receipts.
type Bank struct {
	Code      string
	reference *regexp.Regexp
	url       func(ref string, r Receiver) (string, error)
	extract   func(doc []byte) (string, error)
	// each pattern captures named groups from fieldNames
	patterns []*regexp.Regexp
}

var fieldNames = map[string]string{
	"amount":           "transferred amount",
	"date":             "payment date",
	"payer_name":       "payer name",
	"payer_account":    "payer account",
	"receiver_name":    "receiver name",
	"receiver_account": "receiver account",
}

var requiredFields = []string{"amount", "receiver_account", "date"}

const amountPattern = `[0-9][0-9,]*(?:\.[0-9]+)?`

func CBE() *Bank {
	return &Bank{
		Code:      CodeCBE,
		reference: regexp.MustCompile(`^FT[A-Z0-9]{10}$`),
		url: func(ref string, r Receiver) (string, error) {
			digits := onlyDigits(r.AccountNumber)
			if len(digits) < 8 {
				return "", apperr.BadRequest("CBE receiver account number must have at least 8 digits")
			}
			return "https://apps.cbe.com.et:100/?id=" + url.QueryEscape(ref+digits[len(digits)-8:]), nil
		},
		extract: pdfText,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`Payer\s*:?\s*(?P<payer_name>.+?)\s+Account\s*:?\s*(?P<payer_account>[0-9*]+)`),
			regexp.MustCompile(`Receiver\s*:?\s*(?P<receiver_name>.+?)\s+Account\s*:?\s*(?P<receiver_account>[0-9*]+)`),
			regexp.MustCompile(`Payment Date & Time\s*:?\s*(?P<date>\d{1,2}/\d{1,2}/\d{4},?\s+\d{1,2}:\d{2}(?::\d{2})?\s*(?:AM|PM)?)`),
			regexp.MustCompile(`Transferred Amount\s*:?\s*(?P<amount>` + amountPattern + `)\s*ETB`),
		},
	}
}

func Telebirr() *Bank {
	return &Bank{
		Code:      CodeTelebirr,
		reference: regexp.MustCompile(`^[A-Z0-9]{10}$`),
		url: func(ref string, _ Receiver) (string, error) {
			return "https://transactioninfo.ethiotelecom.et/receipt/" + url.PathEscape(ref), nil
		},
		extract: htmlText,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Payer Name\s*(?P<payer_name>.+?)\s+Payer telebirr no\.?\s*(?P<payer_account>[0-9*]+)`),
			regexp.MustCompile(`(?i)Credited Party name\s*(?P<receiver_name>.+?)\s+Credited party account no\.?\s*(?P<receiver_account>[0-9*]+)`),
			regexp.MustCompile(`(?P<date>\d{2}-\d{2}-\d{4} \d{2}:\d{2}:\d{2})`),
			regexp.MustCompile(`(?i)Total Paid Amount\s*(?P<amount>` + amountPattern + `)\s*Birr`),
		},
	}
}

func Dashen() *Bank {
	return &Bank{
		Code:      CodeDashen,
		reference: regexp.MustCompile(`^[0-9]{3}[A-Z]{4}[0-9]{9}$`),
		url: func(ref string, _ Receiver) (string, error) {
			return "https://receipt.dashensuperapp.com/receipt/" + url.PathEscape(ref), nil
		},
		extract: pdfText,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`Sender Name\s*:?\s*(?P<payer_name>.+?)\s+Sender Account Number\s*:?\s*(?P<payer_account>[0-9*]+)`),
			regexp.MustCompile(`Receiver Name\s*:?\s*(?P<receiver_name>.+?)\s+Receiver Account Number\s*:?\s*(?P<receiver_account>[0-9*]+)`),
			regexp.MustCompile(`Transaction Date\s*:?\s*(?P<date>\d{1,2}/\d{1,2}/\d{4},?\s+\d{1,2}:\d{2}(?::\d{2})?\s*(?:AM|PM)?)`),
			regexp.MustCompile(`Transaction Amount\s*:?\s*ETB\s*(?P<amount>` + amountPattern + `)`),
		},
	}
}

// DefaultBanks returns every bank receipts can be verified for.
func DefaultBanks() []*Bank {
	return []*Bank{CBE(), Telebirr(), Dashen()}
}

func (b *Bank) ValidateReference(reference string) (string, error) {
	ref := strings.ToUpper(strings.TrimSpace(reference))
	if ref == "" {
		return "", apperr.BadRequest("Reference number is required")
	}
	if !b.reference.MatchString(ref) {
		return "", apperr.BadRequest("Invalid %s reference number format: %s", b.Code, reference)
	}
	return ref, nil
}

func (b *Bank) ReceiptURL(reference string, r Receiver) (string, error) {
	ref, err := b.ValidateReference(reference)
	if err != nil {
		return "", err
	}
	return b.url(ref, r)
}

func (b *Bank) Parse(doc []byte, reference string) (*ReceiptData, error) {
	if len(doc) == 0 {
		return nil, apperr.BadRequest("Receipt document is empty")
	}
	text, err := b.extract(doc)
	if err != nil {
		return nil, err
	}
	return b.parseText(text, reference)
}

func (b *Bank) parseText(text, reference string) (*ReceiptData, error) {
	ref := strings.ToUpper(strings.TrimSpace(reference))
	if !strings.Contains(strings.ToUpper(text), ref) {
		return nil, apperr.BadRequest("%s receipt does not mention reference %s", b.Code, ref)
	}

	fields := make(map[string]string, len(fieldNames))
	for _, re := range b.patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for i, name := range re.SubexpNames() {
			if name != "" && fields[name] == "" {
				fields[name] = strings.TrimSpace(m[i])
			}
		}
	}
	for _, name := range requiredFields {
		if fields[name] == "" {
			return nil, apperr.BadRequest("Could not find %s in %s receipt", fieldNames[name], b.Code)
		}
	}

	return &ReceiptData{
		BankCode:          b.Code,
		Reference:         ref,
		TransferredAmount: fields["amount"],
		PaymentDateTime:   fields["date"],
		PayerName:         fields["payer_name"],
		PayerAccount:      fields["payer_account"],
		ReceiverName:      fields["receiver_name"],
		ReceiverAccount:   fields["receiver_account"],
	}, nil
}

func onlyDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
