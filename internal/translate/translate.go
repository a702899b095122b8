// Package translate is the best-effort text enrichment collaborator.
// It fails closed: on any error callers fall back to the original
// text, and a send is never blocked or failed by translation.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Translator transforms text into a target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Noop is used when no translation endpoint is configured; it reports
// an error so callers take the original-text path.
type Noop struct{}

func (Noop) Translate(ctx context.Context, text, targetLang string) (string, error) {
	return "", fmt.Errorf("translation not configured")
}

// HTTPTranslator calls a JSON translation endpoint with exponential
// backoff on 5xx, bounded by a short max elapsed time so a slow
// translator cannot hold up a send for long.
type HTTPTranslator struct {
	endpoint   string
	credential string
	http       *http.Client
	maxElapsed time.Duration
}

func NewHTTPTranslator(endpoint, credential string, timeout time.Duration) *HTTPTranslator {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 30 * time.Second,
	}
	return &HTTPTranslator{
		endpoint:   endpoint,
		credential: credential,
		http:       &http.Client{Transport: tr, Timeout: timeout},
		maxElapsed: timeout,
	}
}

type translateRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

func (t *HTTPTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	body, err := json.Marshal(translateRequest{Text: text, TargetLang: targetLang})
	if err != nil {
		return "", err
	}

	var out translateResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if t.credential != "" {
			req.Header.Set("Authorization", "Bearer "+t.credential)
		}
		resp, err := t.http.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("translate upstream %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("translate status %d", resp.StatusCode))
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = t.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	if out.TranslatedText == "" {
		return "", fmt.Errorf("empty translation")
	}
	return out.TranslatedText, nil
}
