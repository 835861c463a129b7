package model

// Cookie is a single name/value pair read from the banking origin.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Environment holds the navigator properties of the browser that owns the session.
type Environment struct {
	UserAgent string `json:"user_agent"`
	Language  string `json:"language"`
	TimeZone  string `json:"timezone"`
}

// Tab describes the active browser tab.
type Tab struct {
	URL string `json:"url"`
}

// Transaction is one row of the banking provider's transaction endpoint.
// Amount is in minor units; nil when the provider omits it.
type Transaction struct {
	ID          string `json:"id"`
	Currency    string `json:"currency"`
	Amount      *int64 `json:"amount"`
	Description string `json:"description"`
}
