package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
	"github.com/mypharma/pharmacy-core/pkg/circuitbreaker"
)

// Client resolves products from the catalog service over HTTP. Calls run
// through a circuit breaker with a bounded per-request timeout; an open
// circuit or a timeout surfaces as DependencyTimeoutError so the caller can
// decide on retries.
type Client struct {
	http    *http.Client
	baseURL string
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// ClientConfig holds catalog client configuration.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a catalog client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cb, err := circuitbreaker.New(circuitbreaker.DefaultConfig("catalog-lookup"), logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		breaker: cb,
		logger:  logger,
	}, nil
}

type productDTO struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Price                string `json:"price"`
	Stock                int    `json:"stock"`
	RequiresPrescription bool   `json:"requires_prescription"`
	IsActive             bool   `json:"is_active"`
	LowStockThreshold    int    `json:"low_stock_threshold"`
}

// GetProduct implements Lookup.
func (c *Client) GetProduct(ctx context.Context, id string) (Product, error) {
	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return c.fetch(ctx, id)
	})
	if err != nil {
		var nf *errs.NotFoundError
		switch {
		case errors.As(err, &nf):
			return Product{}, err
		case errors.Is(err, circuitbreaker.ErrOpen),
			errors.Is(err, context.DeadlineExceeded),
			isTimeout(err):
			return Product{}, &errs.DependencyTimeoutError{Dependency: "catalog", Cause: err}
		default:
			return Product{}, fmt.Errorf("catalog lookup: %w", err)
		}
	}
	return result.(Product), nil
}

func (c *Client) fetch(ctx context.Context, id string) (Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/products/%s", c.baseURL, id), nil)
	if err != nil {
		return Product{}, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return Product{}, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Product{}, &errs.NotFoundError{Entity: "product", ID: id}
	default:
		return Product{}, fmt.Errorf("catalog status %s", res.Status)
	}

	var dto productDTO
	if err := json.NewDecoder(res.Body).Decode(&dto); err != nil {
		return Product{}, err
	}
	price, err := decimal.NewFromString(dto.Price)
	if err != nil {
		return Product{}, fmt.Errorf("bad price %q for product %s: %w", dto.Price, id, err)
	}
	if !dto.IsActive {
		return Product{}, &errs.NotFoundError{Entity: "product", ID: id}
	}
	return Product{
		ID:                   dto.ID,
		Name:                 dto.Name,
		Price:                price,
		Stock:                dto.Stock,
		RequiresPrescription: dto.RequiresPrescription,
		IsActive:             dto.IsActive,
		LowStockThreshold:    dto.LowStockThreshold,
	}, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
