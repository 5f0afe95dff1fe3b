/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package restapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorResponse is the body of every non-200 JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func parseBody(body io.Reader) ([]byte, error) {
	message, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	if len(message) == 0 {
		return nil, nil
	}

	return message, nil
}

func statusError(response *http.Response, body []byte) error {
	var errorResponse ErrorResponse
	if json.Unmarshal(body, &errorResponse) == nil && errorResponse.Error != "" {
		return fmt.Errorf("%s (code %d)", errorResponse.Error, response.StatusCode)
	}

	if body != nil {
		return fmt.Errorf("error received from server, code %d\nmessage: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	return fmt.Errorf("error received from server, code %d", response.StatusCode)
}

func parseResponse(response *http.Response, contentType string) ([]byte, error) {
	body, err := parseBody(response.Body)
	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		return nil, statusError(response, body)
	}

	if !strings.HasPrefix(response.Header.Get("Content-Type"), contentType) {
		return nil, fmt.Errorf("expected Content-Type=%s, received %s", contentType, response.Header.Get("Content-Type"))
	}

	return body, nil
}

func parseJsonResponse[T any](response *http.Response) (T, error) {
	var result T

	body, err := parseResponse(response, "application/json")
	if err != nil {
		return result, err
	}

	err = json.Unmarshal(body, &result)
	return result, err
}

func parseStringResponse(response *http.Response) (string, error) {
	body, err := parseResponse(response, "text/plain")
	if err != nil {
		return "", err
	}

	return string(body), nil
}

func validateResponse(response *http.Response) error {
	body, err := parseBody(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode != http.StatusOK {
		return statusError(response, body)
	}

	return nil
}
