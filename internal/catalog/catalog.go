// Package catalog serves the product shop: listing, filtering and sorting
// products, categories, the image gallery and spreadsheet imports.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storefront/internal/models"
	"storefront/internal/upload"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const (
	StockInStock    = "in_stock"
	StockOutOfStock = "out_of_stock"
	StockAny        = "any"
)

const (
	SortDefault   = "default"
	SortNameAsc   = "name_asc"
	SortNameDesc  = "name_desc"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
)

var (
	ErrNotFound        = errors.New("product not found")
	ErrInvalidQuery    = errors.New("invalid product query")
	ErrNothingToImport = errors.New("no valid products to import")
)

// likeEscaper makes the search term match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

var sortOrders = map[string]string{
	SortDefault:   "id",
	SortNameAsc:   "name ASC, id",
	SortNameDesc:  "name DESC, id",
	SortPriceAsc:  "price ASC, id",
	SortPriceDesc: "price DESC, id",
}

type Service struct {
	db     *gorm.DB
	images *upload.Store
}

func NewService(db *gorm.DB, images *upload.Store) *Service {
	return &Service{db: db, images: images}
}

// ListQuery filters the shop listing. Zero values mean "no filter" except
// Stock, which defaults to in-stock products only.
type ListQuery struct {
	Search   string
	Category string
	Stock    string
	Sort     string
	Page     int
	Limit    int
}

// Normalize fills defaults and rejects unknown stock filters or sort keys.
func (q *ListQuery) Normalize() error {
	q.Search = strings.TrimSpace(q.Search)
	q.Category = strings.TrimSpace(q.Category)
	if q.Category == "all" {
		q.Category = ""
	}
	if q.Stock == "" {
		q.Stock = StockInStock
	}
	switch q.Stock {
	case StockInStock, StockOutOfStock, StockAny:
	default:
		return fmt.Errorf("%w: stock %q", ErrInvalidQuery, q.Stock)
	}
	if q.Sort == "" {
		q.Sort = SortDefault
	}
	if _, ok := sortOrders[q.Sort]; !ok {
		return fmt.Errorf("%w: sort %q", ErrInvalidQuery, q.Sort)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	return nil
}

// ProductView is a product with its image references resolved to URLs.
type ProductView struct {
	models.Product
	ImageURL  *string  `json:"image_url"`
	ImageURLs []string `json:"image_urls"`
}

type ListResult struct {
	Products []ProductView `json:"products"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	Limit    int           `json:"limit"`
	HasMore  bool          `json:"has_more"`
}

type GalleryImage struct {
	ProductID uint   `json:"product_id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	URL       string `json:"url"`
}

// ProductImport is one product row coming from a spreadsheet or an import
// batch.
type ProductImport struct {
	ID           uint            `json:"id" validate:"required"`
	Name         string          `json:"name" validate:"required"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Stock        int             `json:"stock"`
	Supplier     string          `json:"supplier"`
	Origin       string          `json:"origin"`
	Category     string          `json:"category"`
	CategoryName string          `json:"category_name"`
}

type ImportResult struct {
	Imported   int `json:"imported"`
	Categories int `json:"categories"`
}

// Images decodes a product's stored image references.
func Images(p *models.Product) []string {
	if len(p.Images) == 0 {
		return nil
	}
	var refs []string
	if err := json.Unmarshal(p.Images, &refs); err != nil {
		logrus.WithError(err).WithField("product_id", p.ID).Warn("Malformed product images")
		return nil
	}
	out := refs[:0]
	for _, r := range refs {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

func (s *Service) view(p models.Product) ProductView {
	v := ProductView{Product: p, ImageURLs: []string{}}
	for _, ref := range Images(&p) {
		v.ImageURLs = append(v.ImageURLs, s.images.URL(ref))
	}
	if len(v.ImageURLs) > 0 {
		v.ImageURL = &v.ImageURLs[0]
	}
	return v
}

func (s *Service) ListProducts(ctx context.Context, q ListQuery) (*ListResult, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}

	filter := func(tx *gorm.DB) *gorm.DB {
		if q.Search != "" {
			like := "%" + likeEscaper.Replace(strings.ToLower(q.Search)) + "%"
			tx = tx.Where(`LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\'`, like, like)
		}
		if q.Category != "" {
			tx = tx.Where("category_slug = ?", q.Category)
		}
		switch q.Stock {
		case StockInStock:
			tx = tx.Where("stock > 0")
		case StockOutOfStock:
			tx = tx.Where("stock <= 0")
		}
		return tx
	}
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&models.Product{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	var products []models.Product
	offset := (q.Page - 1) * q.Limit
	err := db.Scopes(filter).Order(sortOrders[q.Sort]).Limit(q.Limit).Offset(offset).Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	res := &ListResult{
		Products: make([]ProductView, 0, len(products)),
		Total:    total,
		Page:     q.Page,
		Limit:    q.Limit,
		HasMore:  int64(offset+len(products)) < total,
	}
	for _, p := range products {
		res.Products = append(res.Products, s.view(p))
	}
	return res, nil
}

func (s *Service) GetProduct(ctx context.Context, id uint) (*ProductView, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	v := s.view(p)
	return &v, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]models.Category, error) {
	cats := []models.Category{}
	if err := s.db.WithContext(ctx).Order("name").Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

// Gallery flattens every product image into one list, in product order.
func (s *Service) Gallery(ctx context.Context) ([]GalleryImage, error) {
	var products []models.Product
	err := s.db.WithContext(ctx).
		Select("id", "name", "category_slug", "images").
		Order("id").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}

	out := []GalleryImage{}
	for i := range products {
		p := &products[i]
		for _, ref := range Images(p) {
			out = append(out, GalleryImage{
				ProductID: p.ID,
				Name:      p.Name,
				Category:  p.CategorySlug,
				URL:       s.images.URL(ref),
			})
		}
	}
	return out, nil
}

// Import upserts categories by slug and products by id. Stock, price and
// descriptive fields are overwritten; weights and images are kept.
func (s *Service) Import(ctx context.Context, items []ProductImport) (*ImportResult, error) {
	if len(items) == 0 {
		return nil, ErrNothingToImport
	}

	cats := map[string]models.Category{}
	products := make([]models.Product, 0, len(items))
	seen := make(map[uint]int, len(items))
	for _, it := range items {
		if it.Category != "" {
			name := it.CategoryName
			if name == "" {
				name = it.Category
			}
			cats[it.Category] = models.Category{Slug: it.Category, Name: name}
		}
		p := models.Product{
			ID:           it.ID,
			Name:         it.Name,
			Description:  it.Description,
			Price:        it.Price.Round(2),
			Stock:        it.Stock,
			WeightKg:     decimal.NewFromFloat(0.5),
			Supplier:     it.Supplier,
			Origin:       it.Origin,
			CategorySlug: it.Category,
		}
		// A repeated id overwrites the earlier row, one upsert per product.
		if i, dup := seen[it.ID]; dup {
			products[i] = p
			continue
		}
		seen[it.ID] = len(products)
		products = append(products, p)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(cats) > 0 {
			rows := make([]models.Category, 0, len(cats))
			for _, c := range cats {
				rows = append(rows, c)
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "slug"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
			}).Create(&rows).Error
			if err != nil {
				return fmt.Errorf("upsert categories: %w", err)
			}
		}

		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "description", "price", "stock", "supplier", "origin", "category_slug", "updated_at",
			}),
		}).CreateInBatches(&products, 100).Error
		if err != nil {
			return fmt.Errorf("upsert products: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"products":   len(products),
		"categories": len(cats),
	}).Info("Products imported")
	return &ImportResult{Imported: len(products), Categories: len(cats)}, nil
}
