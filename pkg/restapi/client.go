/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package restapi

import (
	"context"
	"net/http"
	"net/url"
)

// Client reads the status server of a running session-proxy.
type Client struct {
	Client  *http.Client
	Scheme  string
	Address string
}

func (api Client) get(ctx context.Context, path string) (*http.Response, error) {
	target := url.URL{
		Scheme: api.Scheme,
		Host:   api.Address,
		Path:   path,
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}

	client := api.Client
	if client == nil {
		client = http.DefaultClient
	}

	return client.Do(request)
}

func getJson[T any](ctx context.Context, api Client, path string) (T, error) {
	response, err := api.get(ctx, path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer response.Body.Close()

	return parseJsonResponse[T](response)
}

func (api Client) Health() error {
	return api.HealthWithContext(context.Background())
}

func (api Client) HealthWithContext(ctx context.Context) error {
	response, err := api.get(ctx, "/health")
	if err != nil {
		return err
	}
	defer response.Body.Close()

	return validateResponse(response)
}

func (api Client) Status() (Status, error) {
	return api.StatusWithContext(context.Background())
}

func (api Client) StatusWithContext(ctx context.Context) (Status, error) {
	return getJson[Status](ctx, api, "/v1/status")
}

func (api Client) GetSession(id string) (Session, error) {
	return api.GetSessionWithContext(context.Background(), id)
}

func (api Client) GetSessionWithContext(ctx context.Context, id string) (Session, error) {
	return getJson[Session](ctx, api, "/v1/session/"+url.PathEscape(id))
}

// Metrics returns the prometheus text exposition.
func (api Client) Metrics() (string, error) {
	return api.MetricsWithContext(context.Background())
}

func (api Client) MetricsWithContext(ctx context.Context) (string, error) {
	response, err := api.get(ctx, "/metrics")
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	return parseStringResponse(response)
}
