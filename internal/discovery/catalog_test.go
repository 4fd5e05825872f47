package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/wishsync/internal/apperr"
)

func ids(t *testing.T, c *Catalog, query, source string) []string {
	t.Helper()
	products, err := c.Search(context.Background(), query, source)
	require.NoError(t, err)
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.ID)
	}
	return out
}

func TestCatalogSearchBySource(t *testing.T) {
	c := NewCatalog(0)

	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(t, c, "", ""))
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(t, c, "", SourceAll))
	assert.Equal(t, []string{"1", "2"}, ids(t, c, "", SourceAmazon))
	assert.Equal(t, []string{"3", "4"}, ids(t, c, "", SourceEtsy))
}

func TestCatalogSearchRanksMatchesFirst(t *testing.T) {
	c := NewCatalog(0)

	assert.Equal(t, []string{"3", "1", "2", "4"}, ids(t, c, "Leather", ""))
	assert.Equal(t, []string{"1", "2"}, ids(t, c, "sony", SourceAmazon))
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(t, c, "nothing matches", ""))
}

func TestCatalogUnknownSource(t *testing.T) {
	_, err := NewCatalog(0).Search(context.Background(), "", "ebay")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCatalogDelayHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCatalog(time.Minute).Search(ctx, "", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCatalogResultsAreCopies(t *testing.T) {
	c := NewCatalog(0)
	first, err := c.Search(context.Background(), "", SourceAmazon)
	require.NoError(t, err)
	first[0].Title = "changed"

	second, err := c.Search(context.Background(), "", SourceAmazon)
	require.NoError(t, err)
	assert.Equal(t, "Sony WH-1000XM4 Wireless Noise Cancelling Headphones", second[0].Title)
}
