package discovery

import (
	"context"
	"os"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-pipeline/internal/feeds"
	"github.com/sells-group/prospect-pipeline/internal/model"
	"github.com/sells-group/prospect-pipeline/pkg/apollo"
	"github.com/sells-group/prospect-pipeline/pkg/salesforce"
)

type sfStub struct {
	soql     string
	accounts []salesforce.Account
}

func (s *sfStub) Query(_ context.Context, soql string, out any) error {
	s.soql = soql
	*(out.(*[]salesforce.Account)) = s.accounts
	return nil
}

type notionStub struct {
	resp *notionapi.DatabaseQueryResponse
}

func (n *notionStub) QueryDatabase(_ context.Context, _ string, _ *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return n.resp, nil
}

type suggestStub struct {
	byQuery map[string][]apollo.OrgPreview
}

func (s *suggestStub) FilterByDomain(_ context.Context, _ string) (*apollo.OrgPreview, error) {
	return nil, nil
}

func (s *suggestStub) SearchOrganizations(_ context.Context, _ string, page int) (*apollo.SearchPage, error) {
	return &apollo.SearchPage{Page: page}, nil
}

func (s *suggestStub) SuggestOrganizations(_ context.Context, q string) ([]apollo.OrgPreview, error) {
	return s.byQuery[q], nil
}

func TestCRMSourceTagsExplicitMentions(t *testing.T) {
	sf := &sfStub{accounts: []salesforce.Account{
		{ID: "001", Name: "Acme Inc", Website: "https://acme.com", Type: "Prospect"},
		{ID: "002", Website: "https://nameless.example"},
	}}
	src := &CRMSource{Client: sf, AccountType: "Prospect"}

	ents, err := src.Collect(context.Background(), model.Criteria{MaxLeads: 25})
	require.NoError(t, err)
	require.Len(t, ents, 1)

	assert.Equal(t, model.SourceCRM, ents[0].Source)
	assert.Equal(t, 1.0, ents[0].Confidence)
	assert.Equal(t, "https://acme.com", ents[0].Website)
	assert.Contains(t, sf.soql, "LIMIT 25")
}

func TestWatchlistSource(t *testing.T) {
	nc := &notionStub{resp: &notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{Properties: notionapi.Properties{
			"Name": &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: "Quiet Harbor"}}},
		}}},
	}}
	src := &WatchlistSource{Client: nc, DatabaseID: "db-1"}

	ents, err := src.Collect(context.Background(), model.Criteria{})
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, model.SourceWatchlist, ents[0].Source)
	assert.Equal(t, 0.8, ents[0].Confidence)
}

func TestSeedFileSourceSkipsBrokenLists(t *testing.T) {
	dir := t.TempDir()
	good := dir + "/good.csv"
	require.NoError(t, os.WriteFile(good, []byte("name,website\nAcme Inc,acme.com\n"), 0o644))

	src := &SeedFileSource{Loader: feeds.NewLoader(feeds.Options{})}
	ents, err := src.Collect(context.Background(), model.Criteria{
		SeedURLs: []string{dir + "/missing.csv", good},
	})
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, model.SourceSeedFile, ents[0].Source)
	assert.Equal(t, "acme.com", ents[0].Website)
}

func TestSeedFileSourceAllListsBroken(t *testing.T) {
	src := &SeedFileSource{Loader: feeds.NewLoader(feeds.Options{})}
	_, err := src.Collect(context.Background(), model.Criteria{
		SeedURLs: []string{t.TempDir() + "/missing.csv"},
	})
	assert.Error(t, err)
}

func TestKeywordSourceExpandsKeywordsAndIndustry(t *testing.T) {
	f := &suggestStub{byQuery: map[string][]apollo.OrgPreview{
		"robotics":   {{ID: "o1", Name: "Blue River Technology", WebsiteURL: "blueriver.io"}},
		"automation": {{ID: "o2", Name: "Acme Inc"}},
	}}
	src := &KeywordSource{Finder: f}

	ents, err := src.Collect(context.Background(), model.Criteria{
		Keywords: []string{"robotics"},
		Industry: "automation",
	})
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, model.SourceKeyword, ents[0].Source)
	assert.Equal(t, 0.6, ents[0].Confidence)
	assert.Equal(t, `keyword "robotics"`, ents[0].Context)
}
