// Package shop talks to the e-commerce backend that owns customers,
// orders and the product catalog behind the WhatsApp storefront.
package shop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Customer is the shop-side identity matched by phone number.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// LineItem is one purchased line of an order.
type LineItem struct {
	Title        string `json:"title"`
	VariantID    string `json:"variant_id"`
	VariantTitle string `json:"variant_title"`
	Quantity     int    `json:"quantity"`
}

// Order is a shop order in its fulfillment lifecycle.
type Order struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Status            string     `json:"status"`
	FulfillmentStatus string     `json:"fulfillment_status"`
	TrackingURL       string     `json:"tracking_url,omitempty"`
	Total             string     `json:"total"`
	Currency          string     `json:"currency"`
	LineItems         []LineItem `json:"line_items"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Variant is a purchasable catalog entry.
type Variant struct {
	ID        string   `json:"id"`
	ProductID string   `json:"product_id"`
	Title     string   `json:"title"`
	Price     string   `json:"price"`
	SKU       string   `json:"sku"`
	Available bool     `json:"available"`
	ImageURLs []string `json:"image_urls"`
}

// Product groups variants under one catalog listing.
type Product struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Variants []Variant `json:"variants"`
}

// IShopClient is the storefront contract the workflows depend on.
type IShopClient interface {
	CustomerByPhone(ctx context.Context, phone string) (*Customer, error)
	RecentOrders(ctx context.Context, customerID string) ([]Order, error)
	VariantByID(ctx context.Context, variantID string) (*Variant, error)
	ProductByID(ctx context.Context, productID string) (*Product, error)
	VariantImages(ctx context.Context, variantID string) ([]string, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

const (
	// RecentOrders window and cap.
	recentOrderDays  = 4
	recentOrderLimit = 10
)

// HTTPClient implements IShopClient against the shop's REST API.
type HTTPClient struct {
	http    *http.Client
	baseURL string
	token   string
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		http:    &http.Client{Timeout: 20 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("shop request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logrus.WithFields(logrus.Fields{
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("[SHOP] request rejected")
		return fmt.Errorf("shop api status %d: %s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var errNotFound = fmt.Errorf("shop: not found")

// IsNotFound reports whether the error is a shop-side 404.
func IsNotFound(err error) bool {
	return err == errNotFound
}

// CustomerByPhone finds the customer owning the phone number; nil when
// the shop does not know them.
func (c *HTTPClient) CustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	var out struct {
		Customers []Customer `json:"customers"`
	}
	q := url.Values{"phone": {normalizePhone(phone)}}
	if err := c.get(ctx, "/customers/search", q, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(out.Customers) == 0 {
		return nil, nil
	}
	return &out.Customers[0], nil
}

// RecentOrders lists the customer's orders from the last four days,
// newest first, capped at ten.
func (c *HTTPClient) RecentOrders(ctx context.Context, customerID string) ([]Order, error) {
	var out struct {
		Orders []Order `json:"orders"`
	}
	q := url.Values{
		"customer_id":    {customerID},
		"created_at_min": {time.Now().UTC().AddDate(0, 0, -recentOrderDays).Format(time.RFC3339)},
		"limit":          {fmt.Sprintf("%d", recentOrderLimit)},
		"order":          {"created_at desc"},
	}
	if err := c.get(ctx, "/orders", q, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(out.Orders) > recentOrderLimit {
		out.Orders = out.Orders[:recentOrderLimit]
	}
	return out.Orders, nil
}

func (c *HTTPClient) VariantByID(ctx context.Context, variantID string) (*Variant, error) {
	var out struct {
		Variant Variant `json:"variant"`
	}
	if err := c.get(ctx, "/variants/"+url.PathEscape(variantID), nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out.Variant, nil
}

func (c *HTTPClient) ProductByID(ctx context.Context, productID string) (*Product, error) {
	var out struct {
		Product Product `json:"product"`
	}
	if err := c.get(ctx, "/products/"+url.PathEscape(productID), nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out.Product, nil
}

// VariantImages resolves the image URLs for a variant, falling back to
// the parent product's images when the variant carries none.
func (c *HTTPClient) VariantImages(ctx context.Context, variantID string) ([]string, error) {
	variant, err := c.VariantByID(ctx, variantID)
	if err != nil || variant == nil {
		return nil, err
	}
	if len(variant.ImageURLs) > 0 {
		return variant.ImageURLs, nil
	}
	product, err := c.ProductByID(ctx, variant.ProductID)
	if err != nil || product == nil {
		return nil, err
	}
	var urls []string
	for _, v := range product.Variants {
		urls = append(urls, v.ImageURLs...)
	}
	return urls, nil
}

// ListProducts fetches the full product catalog.
func (c *HTTPClient) ListProducts(ctx context.Context) ([]Product, error) {
	var out struct {
		Products []Product `json:"products"`
	}
	if err := c.get(ctx, "/products", nil, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out.Products, nil
}

// normalizePhone strips everything but digits and a leading plus.
func normalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
