package kina

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// Resolve asks the server for the best variant matching a possibly partial selection.
func (c *Client) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResponse, error) {
	var out ResolveResponse
	err := c.do(ctx, call{op: "watch_resolve", method: http.MethodPost, path: "/watch/resolve", body: req, requiresAuth: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchRequest asks whether the variant can be delivered directly or needs an ad first.
func (c *Client) WatchRequest(ctx context.Context, req WatchRequest) (*WatchResponse, error) {
	var out WatchResponse
	err := c.do(ctx, call{op: "watch_request", method: http.MethodPost, path: "/watch/request", body: req, requiresAuth: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Dispatch hands the variant to the delivery queue.
func (c *Client) Dispatch(ctx context.Context, variantID int64) (*DispatchResponse, error) {
	var out DispatchResponse
	err := c.do(ctx, call{op: "watch_dispatch", method: http.MethodPost, path: "/watch/dispatch", body: variantBody{VariantID: variantID}, requiresAuth: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AdsStart(ctx context.Context, variantID int64) (*AdStartResponse, error) {
	var out AdStartResponse
	err := c.do(ctx, call{op: "ads_start", method: http.MethodPost, path: "/ads/start", body: variantBody{VariantID: variantID}, requiresAuth: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AdsComplete(ctx context.Context, nonce string) (*AdCompleteResponse, error) {
	var out AdCompleteResponse
	err := c.do(ctx, call{op: "ads_complete", method: http.MethodPost, path: "/ads/complete", body: adCompleteRequest{Nonce: nonce}, requiresAuth: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AdsStatus reports whether an ad pass for the variant is still valid.
func (c *Client) AdsStatus(ctx context.Context, variantID int64) (*AdStatusResponse, error) {
	var out AdStatusResponse
	q := url.Values{"variant_id": {strconv.FormatInt(variantID, 10)}}
	err := c.do(ctx, call{op: "ads_status", method: http.MethodGet, path: "/ads/status", query: q, requiresAuth: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Favorites(ctx context.Context) ([]Title, error) {
	var out []Title
	if err := c.do(ctx, call{op: "favorites", method: http.MethodGet, path: "/favorites", requiresAuth: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ToggleFavorite(ctx context.Context, titleID int64) (*FavoriteToggle, error) {
	var out FavoriteToggle
	err := c.do(ctx, call{op: "favorites_toggle", method: http.MethodPost, path: "/favorites/toggle", body: titleBody{TitleID: titleID}, requiresAuth: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Subscriptions(ctx context.Context) ([]Subscription, error) {
	var out []Subscription
	if err := c.do(ctx, call{op: "subscriptions", method: http.MethodGet, path: "/subscriptions", requiresAuth: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ToggleSubscription(ctx context.Context, titleID int64) (*Subscription, error) {
	var out Subscription
	err := c.do(ctx, call{op: "subscriptions_toggle", method: http.MethodPost, path: "/subscriptions/toggle", body: titleBody{TitleID: titleID}, requiresAuth: true}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Title loads a title with its seasons and available audio/quality ids.
func (c *Client) Title(ctx context.Context, titleID int64) (*TitleDetails, error) {
	var out TitleDetails
	path := "/title/" + strconv.FormatInt(titleID, 10)
	if err := c.do(ctx, call{op: "title", method: http.MethodGet, path: path}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Episodes lists the episodes of one season; an unknown season yields an empty list.
func (c *Client) Episodes(ctx context.Context, titleID int64, season int) ([]Episode, error) {
	if season < 1 {
		season = 1
	}
	var out []Episode
	path := "/title/" + strconv.FormatInt(titleID, 10) + "/episodes"
	q := url.Values{"season": {strconv.Itoa(season)}}
	if err := c.do(ctx, call{op: "title_episodes", method: http.MethodGet, path: path, query: q}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TopQuery filters GET /catalog/top. Zero fields use server defaults.
type TopQuery struct {
	Period string // e.g. "7d", "30d"
	Type   string // "movie" or "series"
	Limit  int
}

func (c *Client) CatalogTop(ctx context.Context, tq TopQuery) ([]Title, error) {
	q := url.Values{}
	if tq.Period != "" {
		q.Set("period", tq.Period)
	}
	if tq.Type != "" {
		q.Set("type", tq.Type)
	}
	if tq.Limit > 0 {
		q.Set("limit", strconv.Itoa(tq.Limit))
	}
	var out []Title
	if err := c.do(ctx, call{op: "catalog_top", method: http.MethodGet, path: "/catalog/top", query: q}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchQuery filters GET /catalog/search.
type SearchQuery struct {
	Q      string
	Type   string
	Limit  int
	Offset int
}

func (c *Client) CatalogSearch(ctx context.Context, sq SearchQuery) ([]Title, error) {
	q := url.Values{}
	if sq.Q != "" {
		q.Set("q", sq.Q)
	}
	if sq.Type != "" {
		q.Set("type", sq.Type)
	}
	if sq.Limit > 0 {
		q.Set("limit", strconv.Itoa(sq.Limit))
	}
	if sq.Offset > 0 {
		q.Set("offset", strconv.Itoa(sq.Offset))
	}
	var out []Title
	if err := c.do(ctx, call{op: "catalog_search", method: http.MethodGet, path: "/catalog/search", query: q}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReferralMe returns the caller's referral code and share link.
func (c *Client) ReferralMe(ctx context.Context) (*Referral, error) {
	var out Referral
	if err := c.do(ctx, call{op: "referral_me", method: http.MethodGet, path: "/referral/me", requiresAuth: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
