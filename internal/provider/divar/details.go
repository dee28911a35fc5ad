package divar

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/tidwall/gjson"

	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/search"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// FetchDetails loads the post page and collects every gallery image it references.
// The newer endpoint is tried first.
func (c *Client) FetchDetails(ctx context.Context, itemID string) (search.Details, error) {
	endpoints := []string{
		fmt.Sprintf("%s/v8/posts-v2/%s/", c.baseURL, itemID),
		fmt.Sprintf("%s/v8/posts/%s/", c.baseURL, itemID),
	}

	var lastErr error
	for _, endpoint := range endpoints {
		if err := ctx.Err(); err != nil {
			return search.Details{}, err
		}

		body, err := c.get(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		return search.Details{Images: collectImages(body)}, nil
	}

	return search.Details{}, apperrors.NewExternalAPIError("divar details", lastErr)
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	collector := c.clone()

	var (
		body        []byte
		responseErr error
	)

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode != http.StatusOK {
			responseErr = fmt.Errorf("unexpected status %d from %s", r.StatusCode, r.Request.URL)
			return
		}
		body = r.Body
	})

	collector.OnError(func(r *colly.Response, err error) {
		responseErr = fmt.Errorf("request to %s failed with status %d: %w", r.Request.URL, r.StatusCode, err)
	})

	if err := collector.Visit(target); err != nil {
		return nil, err
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if responseErr != nil {
		return nil, responseErr
	}
	if body == nil {
		return nil, fmt.Errorf("empty response from %s", target)
	}
	return body, nil
}

// collectImages walks the whole document and keeps http(s) image links found
// under "url" or "src" keys, first occurrence wins.
func collectImages(body []byte) []string {
	var (
		images []string
		seen   = make(map[string]struct{})
		walk   func(node gjson.Result)
	)

	walk = func(node gjson.Result) {
		node.ForEach(func(key, value gjson.Result) bool {
			if k := key.String(); (k == "url" || k == "src") && value.Type == gjson.String && isImageURL(value.String()) {
				if _, dup := seen[value.String()]; !dup {
					seen[value.String()] = struct{}{}
					images = append(images, value.String())
				}
			}
			if value.IsObject() || value.IsArray() {
				walk(value)
			}
			return true
		})
	}
	walk(gjson.ParseBytes(body))

	return images
}

func isImageURL(u string) bool {
	if !strings.HasPrefix(u, "http") {
		return false
	}
	lower := strings.ToLower(u)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
