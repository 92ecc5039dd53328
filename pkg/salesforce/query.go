package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Account is the subset of a Salesforce Account used for discovery seeding.
type Account struct {
	ID      string `json:"Id"`
	Name    string `json:"Name"`
	Website string `json:"Website"`
	Type    string `json:"Type"`
}

// ListAccounts returns up to limit accounts, optionally filtered by type.
// Discovery treats these as explicit mentions.
func ListAccounts(ctx context.Context, c Client, accountType string, limit int) ([]Account, error) {
	if limit <= 0 {
		limit = 200
	}

	soql := "SELECT Id, Name, Website, Type FROM Account"
	if accountType != "" {
		soql += fmt.Sprintf(" WHERE Type = '%s'", escapeSoql(accountType))
	}
	soql += fmt.Sprintf(" ORDER BY LastModifiedDate DESC LIMIT %d", limit)

	var accounts []Account
	if err := c.Query(ctx, soql, &accounts); err != nil {
		return nil, eris.Wrap(err, "sf: list accounts")
	}
	return accounts, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
