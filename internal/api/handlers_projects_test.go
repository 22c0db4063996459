package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/surfacehq/surface/internal/store"
)

func TestImportEventData(t *testing.T) {
	items := []store.ImportItem{
		{AssetType: store.ImportSubdomain, Value: "a.example.com"},
		{AssetType: store.ImportIP, Value: "1.2.3.4"},
		{AssetType: store.ImportSubdomain, Value: "b.example.com"},
		{AssetType: store.ImportURL, Value: "https://a.example.com/login"},
	}

	data := importEventData(items, "import")

	assert.Equal(t, []string{"a.example.com", "b.example.com"}, data["domains"])
	assert.Equal(t, []string{"1.2.3.4"}, data["ips"])
	assert.Equal(t, []string{"https://a.example.com/login"}, data["urls"])
	assert.Equal(t, "import", data["source"])
	assert.Equal(t, "a.example.com", data["domain"], "the first domain leads the event")
	assert.Equal(t, "a.example.com", data["target"])
	assert.Equal(t, "domain", data["asset_type"])
}

func TestImportEventData_IPsOnly(t *testing.T) {
	data := importEventData([]store.ImportItem{
		{AssetType: store.ImportIP, Value: "10.1.2.3"},
	}, "discovery")

	assert.Equal(t, "10.1.2.3", data["target"])
	assert.Equal(t, "ip", data["asset_type"])
	assert.NotContains(t, data, "domain")
	assert.NotContains(t, data, "urls")
}

func TestPagination(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?limit=25&offset=50", nil)
	limit, offset := pagination(r)
	assert.Equal(t, 25, limit)
	assert.Equal(t, 50, offset)

	r = httptest.NewRequest("GET", "/x?offset=-3", nil)
	limit, offset = pagination(r)
	assert.Equal(t, 0, limit, "missing limit passes zero through for the store default")
	assert.Equal(t, 0, offset, "negative offsets clamp to zero")
}
