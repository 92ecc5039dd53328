package salesforce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	lastSOQL string
	accounts []Account
	err      error
}

func (f *fakeClient) Query(ctx context.Context, soql string, out any) error {
	f.lastSOQL = soql
	if f.err != nil {
		return f.err
	}
	*(out.(*[]Account)) = f.accounts
	return nil
}

func TestListAccountsBuildsSOQL(t *testing.T) {
	fc := &fakeClient{accounts: []Account{{ID: "001", Name: "Acme"}}}

	got, err := ListAccounts(context.Background(), fc, "Prospect", 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, fc.lastSOQL, "WHERE Type = 'Prospect'")
	assert.Contains(t, fc.lastSOQL, "LIMIT 50")
}

func TestListAccountsEscapesQuotes(t *testing.T) {
	fc := &fakeClient{}

	_, err := ListAccounts(context.Background(), fc, "O'Brien", 0)
	require.NoError(t, err)
	assert.Contains(t, fc.lastSOQL, `O\'Brien`)
	assert.Contains(t, fc.lastSOQL, "LIMIT 200")
}
