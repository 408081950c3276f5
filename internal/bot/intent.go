package bot

import "strings"

// Intent is what an inbound text message asks for.
type Intent int

// Intents, in matching order.
const (
	IntentUnknown Intent = iota
	IntentGrocery
	IntentNoResponse
	IntentNoMoreReceipts
	IntentGreeting
	IntentFarewell
)

func (i Intent) String() string {
	switch i {
	case IntentGrocery:
		return "grocery"
	case IntentNoResponse:
		return "no_response"
	case IntentNoMoreReceipts:
		return "no_more_receipts"
	case IntentGreeting:
		return "greeting"
	case IntentFarewell:
		return "farewell"
	default:
		return "unknown"
	}
}

var (
	groceryKeywords = []string{
		"grocery", "groceries", "next shop", "shop list", "predict",
		"shopping list", "what should i buy", "what to buy",
	}
	noResponseKeywords = []string{
		"no", "nope", "nah", "not yet", "haven't", "haven't yet",
		"not shopping", "not going", "didnt shop", "didn't shop",
	}
	noMoreKeywords = []string{
		"done", "no more", "that's all", "that's it", "finished", "all done",
		"no more receipts", "no other receipts", "don't have", "don't have any",
		"none", "no others",
	}
	greetingKeywords = []string{
		"hi", "hello", "hey", "hey there", "hi there",
		"good morning", "good afternoon", "good evening",
		"gm", "morning", "afternoon", "evening",
		"what's up", "whats up", "sup", "yo",
	}
	farewellKeywords = []string{
		"bye", "goodbye", "see you", "see ya", "cya",
		"take care", "talk later", "later", "bye bye",
		"good night", "gn", "night", "ttyl",
	}
)

// Match classifies text. Matching is on the lower-cased, trimmed text; the first
// matching intent wins.
func Match(text string) Intent {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case t == "":
		return IntentUnknown
	case containsAny(t, groceryKeywords):
		return IntentGrocery
	case isNoResponse(t):
		return IntentNoResponse
	case containsAny(t, noMoreKeywords):
		return IntentNoMoreReceipts
	case hasAnyPrefix(t, greetingKeywords):
		return IntentGreeting
	case containsAny(t, farewellKeywords):
		return IntentFarewell
	default:
		return IntentUnknown
	}
}

// isNoResponse matches a keyword on its own or followed by a space. "no more" and
// "no others" are the reply that closes a trip, so they never count as a no.
func isNoResponse(t string) bool {
	if containsAny(t, noMoreKeywords) {
		return false
	}
	for _, k := range noResponseKeywords {
		if t == k || strings.HasPrefix(t, k+" ") {
			return true
		}
	}
	return false
}

func containsAny(t string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(t string, keywords []string) bool {
	for _, k := range keywords {
		if strings.HasPrefix(t, k) {
			return true
		}
	}
	return false
}
