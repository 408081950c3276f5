package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshsymonds/the-pantry-must-flow/internal/llm"
	"github.com/joshsymonds/the-pantry-must-flow/internal/model"
)

const parsePromptTemplate = `You are a receipt parser. Extract structured data from this receipt text:

%s

Return ONLY valid JSON with this structure:
{
  "store_name": "Store name",
  "purchase_date": "YYYY-MM-DD",
  "items": [
    {
      "name": "Normalized item name",
      "quantity": 2.0,
      "unit_price": 1.65,
      "total_price": 3.30
    }
  ]
}

Instructions:
- Normalize item names to common format (e.g., "COLES LEMON JUICE" → "Lemon Juice")
- Extract date in YYYY-MM-DD format
- Extract quantities, unit prices, and total prices
- Return ONLY the JSON, no other text or markdown`

// Structured is a receipt after LLM structuring.
type Structured struct {
	PurchaseDate *time.Time
	Provider     string
	StoreName    string
	Items        []model.ReceiptItem
}

type parsedReceipt struct {
	StoreName    string       `json:"store_name"`
	PurchaseDate string       `json:"purchase_date"`
	Items        []parsedItem `json:"items"`
}

type parsedItem struct {
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

// Parser turns OCR text into structured items using the provider chain.
type Parser struct {
	chain *llm.Chain
}

// NewParser creates a parser over providers, tried in order.
func NewParser(providers []llm.Provider) *Parser {
	return &Parser{chain: llm.NewChain(providers...)}
}

// ParsePrompt renders the structuring prompt for text.
func ParsePrompt(text string) string {
	return fmt.Sprintf(parsePromptTemplate, text)
}

// Parse structures text. A response without an items list moves on to the next
// provider; an empty list is accepted and returned as is.
func (p *Parser) Parse(ctx context.Context, text string) (*Structured, error) {
	var parsed parsedReceipt
	provider, err := p.chain.Run(ctx, ParsePrompt(text), func(provider, response string) error {
		parsed = parsedReceipt{}
		if err := llm.DecodeJSON(provider, response, &parsed); err != nil {
			return err
		}
		if parsed.Items == nil {
			return &llm.ParseError{Provider: provider, Reason: "missing items"}
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}

	out := &Structured{
		Provider:  provider,
		StoreName: strings.TrimSpace(parsed.StoreName),
		Items:     make([]model.ReceiptItem, 0, len(parsed.Items)),
	}
	if parsed.PurchaseDate != "" {
		if d, err := time.Parse(time.DateOnly, strings.TrimSpace(parsed.PurchaseDate)); err == nil {
			out.PurchaseDate = &d
		} else {
			slog.Debug("ignoring unparseable purchase date", "provider", provider, "purchase_date", parsed.PurchaseDate)
		}
	}
	for _, it := range parsed.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		out.Items = append(out.Items, model.ReceiptItem{
			Name:           name,
			NormalizedName: name,
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice,
			TotalPrice:     it.TotalPrice,
		})
	}
	return out, nil
}
