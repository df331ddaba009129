package workflow

import (
	"regexp"
	"strings"

	"order-bot/internal/models"
)

// MethodRule maps a quick-reply button and free-text phrases to a payment method.
type MethodRule struct {
	Method  models.PaymentMethod
	Button  string
	Phrases []*regexp.Regexp
}

// methodRules is ordered most specific first: "card at counter" must not be
// read as an online card payment, and "pay later at the counter" must not be cash.
var methodRules = []MethodRule{
	{
		Method: models.MethodCardAtCounter,
		Button: ButtonPayCardCounter,
		Phrases: compile(
			`\bpay (at|on|in) (the )?(counter|desk|till|cashier|restaurant|store|shop|table)\b`,
			`\b(card|pay) at (the )?(counter|desk|till|cashier)\b`,
			`\bpay (later|in person|on pickup|on collection|when i (arrive|collect|pick))\b`,
			`\bat the (counter|desk|till)\b`,
		),
	},
	{
		Method: models.MethodCash,
		Button: ButtonPayCash,
		Phrases: compile(
			`\bcash\b`,
			`\bcod\b`,
		),
	},
	{
		Method: models.MethodOnline,
		Button: ButtonPayOnline,
		Phrases: compile(
			`\bonline\b`,
			`\bupi\b`,
			`\b(g ?pay|google ?pay|phone ?pe|paytm|bhim|apple ?pay|amazon ?pay)\b`,
			`\bnet ?banking\b`,
			`\b(credit|debit)? ?card\b`,
			`\bpay(ment)? link\b`,
			`\bpay now\b`,
		),
	},
}

// ClassifyMethod resolves a button value or free text to a payment method.
// Button values match exactly and win over every phrase.
func ClassifyMethod(input string) (models.PaymentMethod, bool) {
	text := normalizeText(input)
	if text == "" {
		return "", false
	}
	for _, rule := range methodRules {
		if text == rule.Button {
			return rule.Method, true
		}
	}
	for _, rule := range methodRules {
		if matchesAny(rule.Phrases, text) {
			return rule.Method, true
		}
	}
	return "", false
}

type PostOrderIntent string

const (
	IntentViewReceipt PostOrderIntent = "view_receipt"
	IntentOrderMore   PostOrderIntent = "order_more"
)

type intentRule struct {
	Intent  PostOrderIntent
	Button  string
	Phrases []*regexp.Regexp
}

var postOrderRules = []intentRule{
	{
		Intent: IntentViewReceipt,
		Button: ButtonViewReceipt,
		Phrases: compile(
			`\b(show|view|see|send|get|give|share|where('?s| is))\b.*\b(receipt|invoice|bill)\b`,
			`^(my )?(receipt|invoice)( please)?$`,
		),
	},
	{
		Intent: IntentOrderMore,
		Button: ButtonOrderMore,
		Phrases: compile(
			`\b(order|get|buy) (some(thing)? )?more\b`,
			`\b(new|another) order\b`,
			`\border again\b`,
			`\bstart (a )?(new|fresh) order\b`,
		),
	},
}

// MatchPostOrderIntent recognises the receipt and order-more quick replies
// and their natural-language equivalents.
func MatchPostOrderIntent(input string) (PostOrderIntent, bool) {
	text := normalizeText(input)
	for _, rule := range postOrderRules {
		if text == rule.Button {
			return rule.Intent, true
		}
	}
	for _, rule := range postOrderRules {
		if matchesAny(rule.Phrases, text) {
			return rule.Intent, true
		}
	}
	return "", false
}

var (
	statusPhrases = compile(
		`\bstatus\b`,
		`\b(is|was|has) (it|my payment|the payment) (done|through|received|complete|completed|confirmed)\b`,
		`\bdid (it|my payment|the payment) go through\b`,
		`\b(i )?(have )?(paid|already paid)\b`,
		`\bpayment (done|complete|completed|made|received)\b`,
	)
	paymentPhrases = compile(
		`\bpay(ment|ing)?\b`,
		`\bhow (do|can|should) i pay\b`,
	)

	checkoutPhrases = compile(
		`\bcheck ?out\b`,
		`\b(place|confirm|finali[sz]e|complete|submit) (the |my |this )?order\b`,
		`\bproceed to (pay|payment|checkout)\b`,
		`\bready to (pay|order)\b`,
		`\b(that'?s|that is) (all|it)\b`,
		`\bdone ordering\b`,
	)
	addItemPhrases = compile(
		`\b(add|also|plus|another|extra)\b`,
		`\b(i'?ll have|i want|i'?d like|give me|get me)\s+(an?|some|\d+|one|two|three|four|five)\b`,
		`\b(\d+|one|two|three|four|five|six|seven|eight|nine|ten)\s+(x\s+)?[a-z]{3,}`,
	)

	orderTypeRules = []struct {
		OrderType string
		Phrases   []*regexp.Regexp
	}{
		{OrderType: "delivery", Phrases: compile(`\bdeliver(y|ed)?\b`, `\bhome delivery\b`)},
		{OrderType: "takeaway", Phrases: compile(`\btake ?away\b`, `\btake ?out\b`, `\bparcel\b`, `\bto go\b`, `\bpick ?up\b`)},
		{OrderType: "dine_in", Phrases: compile(`\bdine[ -]?in\b`, `\beat (here|in)\b`, `\bat the table\b`)},
	}
)

// IsStatusInquiry reports a question about an in-flight payment.
func IsStatusInquiry(input string) bool {
	return matchesAny(statusPhrases, normalizeText(input))
}

// MentionsPayment reports payment talk that did not name a method.
func MentionsPayment(input string) bool {
	return matchesAny(paymentPhrases, normalizeText(input))
}

// IsCheckoutRequest reports checkout vocabulary.
func IsCheckoutRequest(input string) bool {
	return matchesAny(checkoutPhrases, normalizeText(input))
}

// IsAddItemRequest reports that the message still adds to the order.
func IsAddItemRequest(input string) bool {
	return matchesAny(addItemPhrases, normalizeText(input))
}

// ParseOrderType picks the order type mentioned in text, or fallback.
func ParseOrderType(input, fallback string) string {
	text := normalizeText(input)
	for _, rule := range orderTypeRules {
		if matchesAny(rule.Phrases, text) {
			return rule.OrderType
		}
	}
	return fallback
}

func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "’", "'")
	return strings.Join(strings.Fields(s), " ")
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}
