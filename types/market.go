package types

// MarketPrice is one row of the commodity price table, with prices in
// rupees per quintal.
type MarketPrice struct {
	Crop       string `json:"crop"`
	Location   string `json:"location"`
	MinPrice   int    `json:"min_price"`
	ModalPrice int    `json:"modal_price"`
	MaxPrice   int    `json:"max_price"`
}
