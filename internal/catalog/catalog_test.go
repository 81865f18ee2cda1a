package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"storefront/internal/dbtest"
	"storefront/internal/models"
	"storefront/internal/upload"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	gdb := dbtest.New(t)
	return NewService(gdb, upload.NewStore(t.TempDir(), "/upload/")), gdb
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedCatalog(t *testing.T, svc *Service, gdb *gorm.DB) {
	t.Helper()
	_, err := svc.Import(context.Background(), []ProductImport{
		{ID: 1, Name: "Habanero Sauce", Description: "Very hot", Price: price("9.50"), Stock: 5, Category: "saucen", CategoryName: "Saucen"},
		{ID: 2, Name: "Chipotle Sauce", Description: "Smoky", Price: price("7.00"), Stock: 0, Category: "saucen", CategoryName: "Saucen"},
		{ID: 3, Name: "Santoku", Description: "Kitchen knife", Price: price("89.00"), Stock: 2, Category: "messer", CategoryName: "Messer"},
		{ID: 4, Name: "Apple Chips", Description: "Smoking wood", Price: price("12.00"), Stock: 10, Category: "rauch", CategoryName: "Rauch"},
	})
	require.NoError(t, err)
	require.NoError(t, gdb.Model(&models.Product{ID: 1}).
		Update("images", datatypes.JSON(`["hab.jpg","https://cdn.example.ch/hab2.jpg"]`)).Error)
	require.NoError(t, gdb.Model(&models.Product{ID: 3}).
		Update("images", datatypes.JSON(`["santoku.png",""]`)).Error)
}

func ids(res *ListResult) []uint {
	out := make([]uint, 0, len(res.Products))
	for _, p := range res.Products {
		out = append(out, p.ID)
	}
	return out
}

func TestListProductsDefaultsToInStock(t *testing.T) {
	svc, gdb := newTestService(t)
	seedCatalog(t, svc, gdb)

	res, err := svc.ListProducts(context.Background(), ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3, 4}, ids(res))
	assert.Equal(t, int64(3), res.Total)
	assert.Equal(t, DefaultPageSize, res.Limit)
	assert.False(t, res.HasMore)
}

func TestListProductsFilters(t *testing.T) {
	svc, gdb := newTestService(t)
	seedCatalog(t, svc, gdb)
	ctx := context.Background()

	tests := []struct {
		name  string
		query ListQuery
		want  []uint
	}{
		{"search name", ListQuery{Search: "sauce", Stock: StockAny}, []uint{1, 2}},
		{"search description", ListQuery{Search: "SMOK", Stock: StockAny}, []uint{2, 4}},
		{"category", ListQuery{Category: "saucen", Stock: StockAny}, []uint{1, 2}},
		{"all categories", ListQuery{Category: "all"}, []uint{1, 3, 4}},
		{"out of stock", ListQuery{Stock: StockOutOfStock}, []uint{2}},
		{"price asc", ListQuery{Sort: SortPriceAsc, Stock: StockAny}, []uint{2, 1, 4, 3}},
		{"price desc", ListQuery{Sort: SortPriceDesc}, []uint{3, 4, 1}},
		{"name asc", ListQuery{Sort: SortNameAsc}, []uint{4, 1, 3}},
		{"name desc", ListQuery{Sort: SortNameDesc, Stock: StockAny}, []uint{3, 1, 2, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.ListProducts(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res))
		})
	}
}

func TestListProductsSearchIsLiteral(t *testing.T) {
	svc, gdb := newTestService(t)
	seedCatalog(t, svc, gdb)
	ctx := context.Background()
	_, err := svc.Import(ctx, []ProductImport{
		{ID: 5, Name: "100% Chili_Pulver", Price: price("4.00"), Stock: 3, Category: "saucen"},
	})
	require.NoError(t, err)

	for search, want := range map[string][]uint{
		"_":        {5},
		"%":        {5},
		"0% chili": {5},
		"i_p":      {5},
		`\`:        {},
		"h_b":      {},
	} {
		res, err := svc.ListProducts(ctx, ListQuery{Search: search, Stock: StockAny})
		require.NoError(t, err)
		assert.Equal(t, want, ids(res), search)
	}
}

func TestListProductsPaging(t *testing.T) {
	svc, gdb := newTestService(t)
	seedCatalog(t, svc, gdb)

	res, err := svc.ListProducts(context.Background(), ListQuery{Stock: StockAny, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3}, ids(res))
	assert.True(t, res.HasMore)

	res, err = svc.ListProducts(context.Background(), ListQuery{Stock: StockAny, Limit: 3, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint{4}, ids(res))
	assert.False(t, res.HasMore)
	assert.Equal(t, int64(4), res.Total)
}

func TestListProductsRejectsUnknownSort(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ListProducts(context.Background(), ListQuery{Sort: "random"})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = svc.ListProducts(context.Background(), ListQuery{Stock: "some"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestNormalizeClampsLimit(t *testing.T) {
	q := ListQuery{Limit: 1000, Page: -3}
	require.NoError(t, q.Normalize())
	assert.Equal(t, MaxPageSize, q.Limit)
	assert.Equal(t, 1, q.Page)
}

func TestGetProductResolvesImages(t *testing.T) {
	svc, gdb := newTestService(t)
	seedCatalog(t, svc, gdb)

	p, err := svc.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"/upload/hab.jpg", "https://cdn.example.ch/hab2.jpg"}, p.ImageURLs)
	require.NotNil(t, p.ImageURL)
	assert.Equal(t, "/upload/hab.jpg", *p.ImageURL)

	p, err = svc.GetProduct(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, p.ImageURL)
	assert.Empty(t, p.ImageURLs)

	_, err = svc.GetProduct(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCategories(t *testing.T) {
	svc, gdb := newTestService(t)
	seedCatalog(t, svc, gdb)

	cats, err := svc.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 3)
	assert.Equal(t, "Messer", cats[0].Name)
	assert.Equal(t, "rauch", cats[1].Slug)
	assert.Equal(t, "saucen", cats[2].Slug)
}

func TestGallery(t *testing.T) {
	svc, gdb := newTestService(t)
	seedCatalog(t, svc, gdb)

	images, err := svc.Gallery(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, GalleryImage{ProductID: 1, Name: "Habanero Sauce", Category: "saucen", URL: "/upload/hab.jpg"}, images[0])
	assert.Equal(t, "https://cdn.example.ch/hab2.jpg", images[1].URL)
	assert.Equal(t, uint(3), images[2].ProductID)
}

func TestImportUpsertsAndKeepsWeights(t *testing.T) {
	svc, gdb := newTestService(t)
	seedCatalog(t, svc, gdb)
	ctx := context.Background()

	require.NoError(t, gdb.Model(&models.Product{ID: 3}).Update("weight_kg", price("0.8")).Error)

	res, err := svc.Import(ctx, []ProductImport{
		{ID: 3, Name: "Santoku 18cm", Price: price("79.90"), Stock: 1, Category: "messer", CategoryName: "Messer & Klingen"},
		{ID: 5, Name: "Gyuto", Price: price("120"), Stock: 3, Category: "messer"},
		{ID: 5, Name: "Gyuto 21cm", Price: price("125"), Stock: 3, Category: "messer"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 1, res.Categories)

	p, err := svc.GetProduct(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Santoku 18cm", p.Name)
	assert.True(t, p.Price.Equal(price("79.9")))
	assert.True(t, p.WeightKg.Equal(price("0.8")), "weight survives re-import")
	assert.Equal(t, []string{"/upload/santoku.png"}, p.ImageURLs, "images survive re-import")

	p, err = svc.GetProduct(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "Gyuto 21cm", p.Name)
	assert.True(t, p.WeightKg.Equal(price("0.5")))

	var cat models.Category
	require.NoError(t, gdb.Where("slug = ?", "messer").Take(&cat).Error)
	assert.Equal(t, "messer", cat.Name, "last row of a category names it")

	var count int64
	require.NoError(t, gdb.Model(&models.Category{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestImportNothing(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Import(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNothingToImport)
}

func TestBatches(t *testing.T) {
	items := make([]ProductImport, 7)
	got := Batches(items, 3)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 3)
	assert.Len(t, got[2], 1)
	assert.Nil(t, Batches(nil, 3))
}

func TestHandleProductBatch(t *testing.T) {
	svc, _ := newTestService(t)
	handle := HandleProductBatch(svc)

	handle([]byte(`not json`))
	handle([]byte(`[{"id":0,"name":"broken"}]`))
	handle([]byte(`[{"id":7,"name":"Ancho","price":4.2,"stock":6,"category":"chili","category_name":"Chili"}]`))

	p, err := svc.GetProduct(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Ancho", p.Name)
	assert.Equal(t, 6, p.Stock)

	cats, err := svc.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Chili", cats[0].Name)
}
