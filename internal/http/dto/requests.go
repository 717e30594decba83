package dto

type CreateInvoiceRequest struct {
	InvoiceNumber string `json:"invoice_number"`
	SellerUserID  string `json:"seller_user_id"`
	BuyerUserID   string `json:"buyer_user_id"`
	SellerAddress string `json:"seller_address"`
	BuyerAddress  string `json:"buyer_address"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency,omitempty"`
}

type RaiseDisputeRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Release bool `json:"release"`
}
