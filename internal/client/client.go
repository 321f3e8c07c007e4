package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	jsoniter "github.com/json-iterator/go"

	"github.com/sanjaysingh/beacon-go/internal/queue"
)

// DefaultTimeout bounds a single HTTP round trip.
const DefaultTimeout = 30 * time.Second

// maxDrainBytes caps how much of a response body is read before closing, so
// a misbehaving endpoint can't stall the controller tick (mirrors the
// teacher's xhttp.DrainBody usage).
const maxDrainBytes = 16 << 10

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type responseBody struct {
	Err     int         `json:"err"`
	Message string      `json:"message"`
	Result  interface{} `json:"result"`
}

// HTTPClient implements queue.Client over a pooled *http.Client.
type HTTPClient struct {
	http      *http.Client
	userAgent string
	gzip      bool
}

// New builds an HTTPClient using httpClient (typically acquired from a Pool)
// for transport. If gzip is true, outgoing bodies are compressed and sent
// with Content-Encoding: gzip.
func New(httpClient *http.Client, userAgent string, gzip bool) *HTTPClient {
	if userAgent == "" {
		userAgent = "beacon-go/1.0"
	}
	return &HTTPClient{http: httpClient, userAgent: userAgent, gzip: gzip}
}

var _ queue.Client = (*HTTPClient)(nil)

// PostAsJson posts body to endpoint+"item/" with a bearer access token
// header (§6) and decodes the {err, result} / {err, message} response.
func (c *HTTPClient) PostAsJson(ctx context.Context, endpoint, accessToken string, body []byte) (*queue.Result, error) {
	url := endpoint + "item/"

	reqBody := body
	encoding := ""
	if c.gzip {
		compressed, err := gzipCompress(body)
		if err == nil {
			reqBody = compressed
			encoding = "gzip"
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("X-Rollbar-Access-Token", accessToken)
	req.Header.Set("User-Agent", c.userAgent)
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)
		resp.Body.Close()
	}()

	result := &queue.Result{StatusCode: resp.StatusCode}

	if resp.StatusCode == http.StatusTooManyRequests {
		result.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return result, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var rb responseBody
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxDrainBytes))
		if readErr == nil && len(data) > 0 {
			if decodeErr := jsonAPI.Unmarshal(data, &rb); decodeErr == nil {
				result.Err = rb.Err
				result.Message = rb.Message
			}
		}
		return result, nil
	}

	// 4xx/5xx: caller (controller) distinguishes retryable (5xx) from
	// permanent (4xx) by StatusCode.
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxDrainBytes))
	result.Message = string(data)
	return result, nil
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 60 * time.Second
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 60 * time.Second
}

func gzipCompress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
