package whatsapp

import (
	"context"
	"fmt"
)

const (
	maxButtonTitle   = 20
	maxRowTitle      = 24
	maxListButton    = 24
	maxRowDesc       = 72
	productChunkSize = 30
)

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// SendInteractiveProduct sends a single catalog product card.
func (c *Client) SendInteractiveProduct(ctx context.Context, to, retailerID, body string) (*Envelope, error) {
	action := map[string]any{
		"catalog_id":          c.cfg.CatalogID,
		"product_retailer_id": retailerID,
	}
	interactive := map[string]any{
		"type":   "product",
		"action": action,
	}
	if body != "" {
		interactive["body"] = map[string]string{"text": body}
	}
	return c.postMessages(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive":       interactive,
	})
}

// SendProductList sends a multi-product catalog message. The Cloud API
// caps a section at 30 items, so larger sets are split into sequential
// messages with a bilingual part marker in the header and the item range
// appended to the body. Returns the envelopes of every part sent; a
// failure aborts remaining parts.
func (c *Client) SendProductList(ctx context.Context, to, header, body, sectionTitle string, retailerIDs []string) ([]*Envelope, error) {
	if len(retailerIDs) == 0 {
		return nil, fmt.Errorf("product list requires at least one retailer id")
	}
	total := len(retailerIDs)

	var chunks [][]string
	for len(retailerIDs) > productChunkSize {
		chunks = append(chunks, retailerIDs[:productChunkSize])
		retailerIDs = retailerIDs[productChunkSize:]
	}
	chunks = append(chunks, retailerIDs)

	var envs []*Envelope
	for i, chunk := range chunks {
		items := make([]map[string]string, 0, len(chunk))
		for _, rid := range chunk {
			items = append(items, map[string]string{"product_retailer_id": rid})
		}

		partHeader := header
		partBody := body
		if len(chunks) > 1 {
			partHeader = fmt.Sprintf("%s (جزء %d/%d - Partie %d/%d)", header, i+1, len(chunks), i+1, len(chunks))
			start := i*productChunkSize + 1
			end := i*productChunkSize + len(chunk)
			partBody = fmt.Sprintf("%s\nالمنتجات %d-%d من %d - Produits %d-%d sur %d", body, start, end, total, start, end, total)
		}

		env, err := c.postMessages(ctx, map[string]any{
			"messaging_product": "whatsapp",
			"recipient_type":    "individual",
			"to":                to,
			"type":              "interactive",
			"interactive": map[string]any{
				"type":   "product_list",
				"header": map[string]string{"type": "text", "text": truncate(partHeader, 60)},
				"body":   map[string]string{"text": partBody},
				"action": map[string]any{
					"catalog_id": c.cfg.CatalogID,
					"sections": []map[string]any{
						{"title": truncate(sectionTitle, maxRowTitle), "product_items": items},
					},
				},
			},
		})
		if err != nil {
			return envs, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// Button is one quick-reply option.
type Button struct {
	ID    string
	Title string
}

// SendReplyButtons sends up to three quick-reply buttons. Titles longer
// than the upstream 20-char cap are truncated rather than rejected.
func (c *Client) SendReplyButtons(ctx context.Context, to, body string, buttons []Button) (*Envelope, error) {
	if len(buttons) == 0 || len(buttons) > 3 {
		return nil, fmt.Errorf("reply buttons require 1..3 options, got %d", len(buttons))
	}
	btns := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		btns = append(btns, map[string]any{
			"type": "reply",
			"reply": map[string]string{
				"id":    b.ID,
				"title": truncate(b.Title, maxButtonTitle),
			},
		})
	}
	return c.postMessages(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]any{"buttons": btns},
		},
	})
}

// ListRow is one selectable row of a list message.
type ListRow struct {
	ID          string
	Title       string
	Description string
}

// ListSection groups rows under a title.
type ListSection struct {
	Title string
	Rows  []ListRow
}

// SendListMessage sends a sectioned list picker. Row titles, the button
// label and descriptions are truncated to the upstream caps (24/24/72).
func (c *Client) SendListMessage(ctx context.Context, to, body, buttonText string, sections []ListSection) (*Envelope, error) {
	if len(sections) == 0 {
		return nil, fmt.Errorf("list message requires at least one section")
	}
	secs := make([]map[string]any, 0, len(sections))
	for _, s := range sections {
		rows := make([]map[string]string, 0, len(s.Rows))
		for _, row := range s.Rows {
			r := map[string]string{
				"id":    row.ID,
				"title": truncate(row.Title, maxRowTitle),
			}
			if row.Description != "" {
				r["description"] = truncate(row.Description, maxRowDesc)
			}
			rows = append(rows, r)
		}
		secs = append(secs, map[string]any{
			"title": truncate(s.Title, maxRowTitle),
			"rows":  rows,
		})
	}
	return c.postMessages(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "list",
			"body": map[string]string{"text": body},
			"action": map[string]any{
				"button":   truncate(buttonText, maxListButton),
				"sections": secs,
			},
		},
	})
}
