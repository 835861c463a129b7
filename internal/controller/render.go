package controller

import (
	"fmt"
	"strconv"

	"notary-relay/internal/model"
)

// FormatAmount renders minor units as a decimal without trailing zeros.
func FormatAmount(minor int64) string {
	return strconv.FormatFloat(float64(minor)/100, 'f', -1, 64)
}

// RenderTransaction formats the transaction shown to the user before proving.
func RenderTransaction(tx model.Transaction) string {
	currency := tx.Currency
	if currency == "" {
		currency = "N/A"
	}
	description := tx.Description
	if description == "" {
		description = "No description available"
	}
	amount := "N/A"
	if tx.Amount != nil {
		amount = FormatAmount(*tx.Amount)
	}

	return fmt.Sprintf("Received transaction:\nID: %s\nCurrency: %s\nAmount: %s %s\nDescription: %s",
		tx.ID, currency, amount, currency, description)
}
