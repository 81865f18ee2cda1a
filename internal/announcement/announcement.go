// Package announcement manages the storefront banners: at most one is active
// at a time and each carries up to two images.
package announcement

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"storefront/internal/models"
	"storefront/internal/upload"
)

var (
	ErrNotFound = errors.New("announcement not found")
	ErrInvalid  = errors.New("invalid announcement")
)

type Service struct {
	db     *gorm.DB
	images *upload.Store
	cache  *ttlCache
}

// NewService returns a service whose reads are cached for ttl.
func NewService(db *gorm.DB, images *upload.Store, ttl time.Duration) *Service {
	return &Service{db: db, images: images, cache: newTTLCache(ttl)}
}

// View is an announcement with its image references resolved to URLs.
type View struct {
	models.Announcement
	Image1URL *string `json:"image1_url"`
	Image2URL *string `json:"image2_url"`
}

type ListResult struct {
	Announcements []View `json:"announcements"`
	Total         int    `json:"total"`
}

// ImageInput describes what happens to one image slot on save. Remove clears
// the slot first, then File or else a remote URL fills it; an empty input
// keeps the current image.
type ImageInput struct {
	Remove bool
	File   *multipart.FileHeader
	URL    string
}

// SaveInput creates an announcement when ID is zero and updates it otherwise.
type SaveInput struct {
	ID         uint
	Type       string
	Title      string
	Subtitle   string
	ProductURL string
	ShowOnce   bool
	Images     [2]ImageInput
}

func (s *Service) view(a models.Announcement) View {
	return View{
		Announcement: a,
		Image1URL:    s.images.URLPtr(a.Image1),
		Image2URL:    s.images.URLPtr(a.Image2),
	}
}

// List returns every announcement, newest first.
func (s *Service) List(ctx context.Context) (*ListResult, error) {
	if v, ok := s.cache.get(keyAll); ok {
		return v.(*ListResult), nil
	}

	var rows []models.Announcement
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	res := &ListResult{Announcements: make([]View, 0, len(rows)), Total: len(rows)}
	for _, a := range rows {
		res.Announcements = append(res.Announcements, s.view(a))
	}
	s.cache.set(keyAll, res)
	return res, nil
}

// Active returns the active announcement, or nil when none is.
func (s *Service) Active(ctx context.Context) (*View, error) {
	if v, ok := s.cache.get(keyActive); ok {
		return v.(*View), nil
	}

	var rows []models.Announcement
	err := s.db.WithContext(ctx).Where("is_active = ?", true).
		Order("updated_at DESC, id DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load active announcement: %w", err)
	}
	var out *View
	if len(rows) > 0 {
		v := s.view(rows[0])
		out = &v
	}
	s.cache.set(keyActive, out)
	return out, nil
}

func (s *Service) find(tx *gorm.DB, id uint) (*models.Announcement, error) {
	var a models.Announcement
	if err := tx.First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load announcement %d: %w", id, err)
	}
	return &a, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Save validates in, applies the image slot changes and writes the row.
// Files replaced or removed by the save are deleted once the row is stored;
// files uploaded for a failed save are deleted right away.
func (s *Service) Save(ctx context.Context, in SaveInput) (*View, error) {
	typ := strings.TrimSpace(in.Type)
	if typ == "" {
		typ = models.AnnouncementGeneral
	}
	if typ != models.AnnouncementGeneral && typ != models.AnnouncementProduct {
		return nil, fmt.Errorf("%w: type %q", ErrInvalid, typ)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}

	a := &models.Announcement{}
	if in.ID != 0 {
		var err error
		if a, err = s.find(s.db.WithContext(ctx), in.ID); err != nil {
			return nil, err
		}
	}

	a.Type = typ
	a.Title = title
	a.Subtitle = optional(in.Subtitle)
	a.ProductURL = nil
	if typ == models.AnnouncementProduct {
		a.ProductURL = optional(in.ProductURL)
	}
	a.ShowOnce = in.ShowOnce

	var uploaded, obsolete []string
	cleanup := func() {
		for _, f := range uploaded {
			s.images.Remove(f)
		}
	}
	slots := [2]**string{&a.Image1, &a.Image2}
	for i, img := range in.Images {
		slot := slots[i]
		current := ""
		if *slot != nil {
			current = **slot
		}

		// Remove clears the slot; a new file or URL in the same request
		// still fills it.
		if img.Remove {
			*slot = nil
		}
		switch {
		case img.File != nil:
			name, err := s.images.SaveImage(img.File, fmt.Sprintf("ann%d", i))
			if err != nil {
				cleanup()
				if errors.Is(err, upload.ErrExtension) || errors.Is(err, upload.ErrTooLarge) {
					return nil, fmt.Errorf("%w: image%d: %v", ErrInvalid, i+1, err)
				}
				return nil, err
			}
			uploaded = append(uploaded, name)
			*slot = &name
		case upload.IsRemote(strings.TrimSpace(img.URL)):
			u := strings.TrimSpace(img.URL)
			*slot = &u
		default:
			if !img.Remove {
				continue
			}
		}
		if current != "" && (*slot == nil || **slot != current) {
			obsolete = append(obsolete, current)
		}
	}

	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		cleanup()
		return nil, fmt.Errorf("save announcement: %w", err)
	}
	for _, f := range obsolete {
		s.images.Remove(f)
	}
	s.cache.purge()

	logrus.WithFields(logrus.Fields{
		"id":      a.ID,
		"type":    a.Type,
		"created": in.ID == 0,
	}).Info("Announcement saved")
	v := s.view(*a)
	return &v, nil
}

// Toggle flips the active flag. Activating one announcement deactivates all
// others.
func (s *Service) Toggle(ctx context.Context, id uint) (*View, error) {
	var out models.Announcement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.find(tx, id)
		if err != nil {
			return err
		}
		active := !a.IsActive
		if active {
			if err := tx.Model(&models.Announcement{}).Where("id <> ? AND is_active = ?", id, true).
				Update("is_active", false).Error; err != nil {
				return fmt.Errorf("deactivate announcements: %w", err)
			}
		}
		if err := tx.Model(a).Update("is_active", active).Error; err != nil {
			return fmt.Errorf("toggle announcement %d: %w", id, err)
		}
		a.IsActive = active
		out = *a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.purge()

	logrus.WithFields(logrus.Fields{"id": id, "active": out.IsActive}).Info("Announcement toggled")
	v := s.view(out)
	return &v, nil
}

// Delete removes the announcement and its locally stored images.
func (s *Service) Delete(ctx context.Context, id uint) error {
	db := s.db.WithContext(ctx)
	a, err := s.find(db, id)
	if err != nil {
		return err
	}
	if err := db.Delete(a).Error; err != nil {
		return fmt.Errorf("delete announcement %d: %w", id, err)
	}
	for _, img := range []*string{a.Image1, a.Image2} {
		if img != nil {
			s.images.Remove(*img)
		}
	}
	s.cache.purge()

	logrus.WithField("id", id).Info("Announcement deleted")
	return nil
}
