package cryptopay

// Invoice is an issued payable invoice
type Invoice struct {
	ID     string
	PayURL string
}

type createInvoiceRequest struct {
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

type createInvoiceResponse struct {
	OK     bool           `json:"ok"`
	Result *invoiceResult `json:"result,omitempty"`
}

type invoiceResult struct {
	InvoiceID     int64  `json:"invoice_id"`
	Status        string `json:"status"`
	PayURL        string `json:"pay_url,omitempty"`
	BotInvoiceURL string `json:"bot_invoice_url,omitempty"`
}
