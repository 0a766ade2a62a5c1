package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Order statuses returned by /data/order.
const (
	OrderStatusLive      = "LIVE"
	OrderStatusMatched   = "MATCHED"
	OrderStatusDelayed   = "DELAYED"
	OrderStatusCancelled = "CANCELED"
)

// OrderInfo mirrors the /data/order/<order_hash> response payload.
type OrderInfo struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	Market       string        `json:"market"`
	AssetID      string        `json:"asset_id"`
	Side         string        `json:"side"`
	Price        decimalString `json:"price"`
	OriginalSize decimalString `json:"original_size"`
	SizeMatched  decimalString `json:"size_matched"`
	OrderType    string        `json:"order_type"`
}

// SizeMatchedMicros returns the matched size in micro-units (0 when absent).
func (o *OrderInfo) SizeMatchedMicros() int64 {
	if o == nil {
		return 0
	}
	v, err := ParseUnits(string(o.SizeMatched))
	if err != nil {
		return 0
	}
	return v
}

type orderInfoResp struct {
	Order *OrderInfo `json:"order"`
}

type cancelOrderReq struct {
	OrderID string `json:"orderID"`
}

// CancelOrder cancels a single order. Cancelling an unknown or already
// settled order is not an error; the caller's intent (no live order) holds
// either way.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil
	}
	if !c.HasApiCreds() {
		return fmt.Errorf("api creds not configured")
	}

	body, err := json.Marshal(cancelOrderReq{OrderID: orderID})
	if err != nil {
		return fmt.Errorf("marshal cancel order: %w", err)
	}

	path := "/order"
	ts, err := c.timestampForAuth(ctx, false)
	if err != nil {
		return err
	}
	headers, err := c.l2Headers(ts, http.MethodDelete, path, body)
	if err != nil {
		return err
	}

	var resp map[string]any
	if err := c.doJSONBody(ctx, http.MethodDelete, path, nil, headers, body, &resp); err != nil {
		if isMissingOrderErr(err) {
			return nil
		}
		return err
	}
	return nil
}

func isMissingOrderErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "not exist") ||
		strings.Contains(msg, "already canceled") ||
		strings.Contains(msg, "already cancelled")
}

// CancelAll cancels every open order owned by the API key.
func (c *Client) CancelAll(ctx context.Context) error {
	if !c.HasApiCreds() {
		return fmt.Errorf("api creds not configured")
	}

	path := "/cancel-all"
	ts, err := c.timestampForAuth(ctx, false)
	if err != nil {
		return err
	}
	headers, err := c.l2Headers(ts, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	return c.doJSONBody(ctx, http.MethodDelete, path, nil, headers, nil, nil)
}

// GetOrder fetches a single order by ID/hash.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderInfo, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order id required")
	}
	if !c.HasApiCreds() {
		return nil, fmt.Errorf("api creds not configured")
	}

	path := "/data/order/" + orderID
	ts, err := c.timestampForAuth(ctx, false)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp orderInfoResp
	if err := c.doJSON(ctx, http.MethodGet, path, nil, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, fmt.Errorf("order missing in response")
	}
	return resp.Order, nil
}

// GetOpenOrders lists the wallet's open orders, optionally filtered by asset.
func (c *Client) GetOpenOrders(ctx context.Context, assetID string) ([]OrderInfo, error) {
	if !c.HasApiCreds() {
		return nil, fmt.Errorf("api creds not configured")
	}

	q := url.Values{}
	if strings.TrimSpace(assetID) != "" {
		q.Set("asset_id", strings.TrimSpace(assetID))
	}

	path := "/data/orders"
	signedPath := path
	if len(q) > 0 {
		signedPath = path + "?" + q.Encode()
	}

	ts, err := c.timestampForAuth(ctx, false)
	if err != nil {
		return nil, err
	}
	headers, err := c.l2Headers(ts, http.MethodGet, signedPath, nil)
	if err != nil {
		return nil, err
	}

	var resp []OrderInfo
	if err := c.doJSON(ctx, http.MethodGet, signedPath, nil, headers, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
