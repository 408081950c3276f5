package prediction

import (
	"fmt"
	"strings"
)

const maxReasoningRunes = 150

// User-facing replies for the grocery request flow.
const (
	msgNoReceipts     = "⚠️ Couldn't fetch your receipts. Please try again later."
	msgNoItems        = "⚠️ No items found in your receipts. Please try again later."
	msgNoPatterns     = "⚠️ Couldn't analyze your purchase patterns. Please try again later."
	msgGenerateFailed = "⚠️ Couldn't generate prediction. Please try again later."
	msgUnexpected     = "❌ Sorry, something went wrong generating your prediction. Please try again later."
)

// InsufficientReceiptsMessage explains how many more receipts are needed.
func InsufficientReceiptsMessage(count, minimum int) string {
	return fmt.Sprintf("📊 You have %d receipt(s) saved.\n\n", count) +
		fmt.Sprintf("I need at least %d receipts to make accurate predictions for your next purchase list.\n\n", minimum) +
		fmt.Sprintf("So, once you have %d more receipts, I'll be able to generate a prediction for you with better accuracy.", minimum-count)
}

// AnalyzingMessage acknowledges a request that has enough history.
func AnalyzingMessage(count int) string {
	return fmt.Sprintf("✅ Great! You have %d receipt(s).\n\n🔄 Analyzing your shopping patterns... This may take a moment.", count)
}

// FormatMessage renders a prediction as a WhatsApp shopping list.
func FormatMessage(r *Result) string {
	var b strings.Builder
	b.WriteString("🛒 *Shopping List*\n\n")
	fmt.Fprintf(&b, "*When:* %s - %s\n\n", r.DateRangeStart.Format(dateLayout), r.DateRangeEnd.Format(dateLayout))
	b.WriteString("*Items:*\n")
	for i, item := range r.Items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	if r.Reasoning != "" {
		fmt.Fprintf(&b, "\n💡 %s", truncate(r.Reasoning, maxReasoningRunes))
	}
	b.WriteString("\n\n📸 Send your receipt after shopping!")
	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
