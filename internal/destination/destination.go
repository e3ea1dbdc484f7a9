// Package destination manages the per-owner destination registry and resolves
// the URL new deliveries are sent to.
package destination

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/austindbirch/hookrelay/internal/ids"
	"github.com/austindbirch/hookrelay/internal/logging"
)

var (
	ErrMissingURL = errors.New("missing 'url' in request body")
	ErrInvalidURL = errors.New("invalid destination url")
)

type Destination struct {
	ID        string    `json:"destination_id"`
	OwnerID   string    `json:"owner_id"`
	URL       string    `json:"url"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists destinations. ListDestinations returns them in creation order.
type Store interface {
	CreateDestination(ctx context.Context, d Destination) error
	ListDestinations(ctx context.Context, ownerID string) ([]Destination, error)
}

// Resolver is what ingestion needs: the URL of the latest-created active destination
type Resolver interface {
	ActiveURLFor(ctx context.Context, ownerID string) (string, bool, error)
}

type Service struct {
	store  Store
	logger *logging.Logger
}

func NewService(store Store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{store: store, logger: logger}
}

// Create registers a new active destination for ownerID
func (s *Service) Create(ctx context.Context, ownerID, rawURL string) (Destination, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return Destination{}, err
	}
	d := Destination{
		ID:        ids.NewDestination(),
		OwnerID:   ownerID,
		URL:       u,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateDestination(ctx, d); err != nil {
		return Destination{}, fmt.Errorf("create destination: %w", err)
	}
	s.logger.WithContext(ctx).WithOwner(ownerID).WithDestination(u).
		WithField("destination_id", d.ID).Info("destination created")
	return d, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]Destination, error) {
	list, err := s.store.ListDestinations(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	if list == nil {
		list = []Destination{}
	}
	return list, nil
}

// ActiveURLFor returns the URL of the most recently created active destination
func (s *Service) ActiveURLFor(ctx context.Context, ownerID string) (string, bool, error) {
	list, err := s.store.ListDestinations(ctx, ownerID)
	if err != nil {
		return "", false, fmt.Errorf("resolve destination: %w", err)
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Active {
			return list[i].URL, true, nil
		}
	}
	return "", false, nil
}

// NormalizeURL trims raw, prefixes https:// when no http(s) scheme is present
// and requires a host
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingURL
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return raw, nil
}
