package jupiter

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// APIQuote is the /quote response. The whole payload is echoed back to /swap,
// so the raw bytes are kept alongside the decoded fields.
type APIQuote struct {
	InputMint            string          `json:"inputMint"`
	InAmount             string          `json:"inAmount"`
	OutputMint           string          `json:"outputMint"`
	OutAmount            string          `json:"outAmount"`
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	SwapMode             string          `json:"swapMode"`
	SlippageBps          int             `json:"slippageBps"`
	PriceImpactPct       flexFloat       `json:"priceImpactPct"`
	RoutePlan            []APIRoutePlan  `json:"routePlan"`
	ContextSlot          uint64          `json:"contextSlot"`
	TimeTaken            float64         `json:"timeTaken"`
	Raw                  json.RawMessage `json:"-"`
}

// APIRoutePlan is one hop of a quoted route.
type APIRoutePlan struct {
	SwapInfo struct {
		AmmKey     string `json:"ammKey"`
		Label      string `json:"label"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
		InAmount   string `json:"inAmount"`
		OutAmount  string `json:"outAmount"`
	} `json:"swapInfo"`
	Percent int `json:"percent"`
}

// Venues returns the distinct AMM labels used by the route, in hop order.
func (q APIQuote) Venues() []string {
	seen := make(map[string]bool, len(q.RoutePlan))
	out := make([]string, 0, len(q.RoutePlan))
	for _, hop := range q.RoutePlan {
		label := strings.TrimSpace(hop.SwapInfo.Label)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}

// swapRequest is the /swap request body.
type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports any             `json:"prioritizationFeeLamports,omitempty"`
}

// APISwap is the /swap response.
type APISwap struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// APIPriceResponse is the price endpoint response.
type APIPriceResponse struct {
	Data map[string]*APIPrice `json:"data"`
}

// APIPrice is one entry of a price response.
type APIPrice struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	Price flexFloat `json:"price"`
}

// flexFloat unmarshals from a JSON number or a numeric string; the router
// sends prices and impacts as strings. NaN and infinities are rejected.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("jupiter: parse number %q: %w", s, err)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("jupiter: parse number %q: not finite", s)
	}
	*f = flexFloat(n)
	return nil
}
