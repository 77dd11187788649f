// Package intake turns the three payment pathways (gateway checkout, bank
// transfer claim, administrative grant) into normalized grant requests. No
// adapter touches storage; the subscription engine applies the result.
package intake

import (
	"strings"

	"github.com/dukerupert/bookshelf/internal/entitlement"
)

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &entitlement.ValidationError{Field: field, Message: "required"}
	}
	return nil
}
