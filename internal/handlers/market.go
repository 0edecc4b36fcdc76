package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agrinova/apiserver/types"
)

// samplePrices is the fixed commodity price table served by the market
// price lookup until a live mandi API is integrated.
var samplePrices = []types.MarketPrice{
	{Crop: "wheat", Location: "delhi", MinPrice: 2500, ModalPrice: 2750, MaxPrice: 2900},
	{Crop: "paddy", Location: "punjab", MinPrice: 1800, ModalPrice: 2000, MaxPrice: 2150},
	{Crop: "soybean", Location: "madhya pradesh", MinPrice: 3500, ModalPrice: 3700, MaxPrice: 3860},
	{Crop: "wheat", Location: "punjab", MinPrice: 2600, ModalPrice: 2800, MaxPrice: 2950},
}

// MarketHandler serves commodity price lookups against a static table.
type MarketHandler struct {
	prices []types.MarketPrice
}

// NewMarketHandler constructs a handler over the sample price table.
func NewMarketHandler() *MarketHandler {
	return &MarketHandler{prices: samplePrices}
}

type MarketRequest struct {
	Crop     string `json:"crop"`
	Location string `json:"location"`
}

type MarketResponse struct {
	MarketPrices []types.MarketPrice `json:"market_prices"`
}

// Lookup filters the price table by case-insensitive substring match
// on both crop and location. Empty fields match everything.
func (h *MarketHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req MarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	crop := strings.ToLower(strings.TrimSpace(req.Crop))
	location := strings.ToLower(strings.TrimSpace(req.Location))

	results := []types.MarketPrice{}
	for _, price := range h.prices {
		if strings.Contains(price.Crop, crop) && strings.Contains(price.Location, location) {
			results = append(results, price)
		}
	}
	writeJSON(w, http.StatusOK, MarketResponse{MarketPrices: results})
}
