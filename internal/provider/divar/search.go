package divar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/tidwall/gjson"

	"github.com/Proton-105/divar-watch-bot/internal/domain"
	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/search"
)

var (
	phonePattern = regexp.MustCompile(`09\d{9}`)

	errMalformedResponse = errors.New("malformed search response")
)

type categoryValue struct {
	Value string `json:"value"`
}

type searchQuery struct {
	Category categoryValue  `json:"category"`
	Search   []search.Range `json:"search"`
	Cities   []string       `json:"cities"`
}

type searchPayload struct {
	Query searchQuery `json:"query"`
	Page  int         `json:"page"`
}

// Search posts the query to the web-search endpoint and maps the post list.
func (c *Client) Search(ctx context.Context, q search.Query, limit int) ([]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranges := q.Ranges
	if ranges == nil {
		ranges = []search.Range{}
	}
	payload, err := json.Marshal(searchPayload{
		Query: searchQuery{
			Category: categoryValue{Value: q.CategoryToken},
			Search:   ranges,
			Cities:   []string{q.Location},
		},
		Page: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("divar: marshal search payload: %w", err)
	}

	target := fmt.Sprintf("%s/v8/web-search/%s/", c.baseURL, q.Location)

	collector := c.clone()

	var (
		items       []domain.Item
		responseErr error
	)

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("Content-Type", "application/json")
	})

	collector.OnResponse(func(r *colly.Response) {
		parsed, err := c.parsePostList(r.Body, limit)
		if err != nil {
			responseErr = err
			return
		}
		items = parsed
	})

	collector.OnError(func(r *colly.Response, err error) {
		responseErr = fmt.Errorf("request to %s failed with status %d: %w", r.Request.URL, r.StatusCode, err)
	})

	if err := collector.PostRaw(target, payload); err != nil {
		return nil, apperrors.NewExternalAPIError("divar search", err)
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if responseErr != nil {
		return nil, apperrors.NewExternalAPIError("divar search", responseErr)
	}

	c.log.Debug("search finished",
		"location", q.Location,
		"category", q.CategoryToken,
		"items", len(items),
	)

	return items, nil
}

func (c *Client) parsePostList(body []byte, limit int) ([]domain.Item, error) {
	if !gjson.ValidBytes(body) {
		return nil, errMalformedResponse
	}

	posts := gjson.GetBytes(body, "web_widgets.post_list")
	items := make([]domain.Item, 0)

	posts.ForEach(func(_, post gjson.Result) bool {
		data := post.Get("data")
		token := data.Get("token").String()
		if token == "" {
			return true
		}

		description := data.Get("description").String()
		items = append(items, domain.Item{
			ID:          token,
			Title:       data.Get("title").String(),
			Description: description,
			Price:       data.Get("middle_description_text").String(),
			Location:    data.Get("city").String(),
			SubRegion:   data.Get("district").String(),
			Images:      imagesOf(data.Get("image")),
			URL:         c.postBaseURL + "/" + token,
			Phone:       ExtractPhone(description),
			PublishedAt: parseTimestamp(firstNonEmpty(data.Get("post_date"), data.Get("time"))),
		})

		return limit <= 0 || len(items) < limit
	})

	return items, nil
}

func imagesOf(image gjson.Result) []string {
	var urls []string
	switch {
	case image.IsObject():
		if u := image.Get("url").String(); u != "" {
			urls = append(urls, u)
		}
	case image.IsArray():
		image.ForEach(func(_, v gjson.Result) bool {
			if u := v.Get("url").String(); u != "" {
				urls = append(urls, u)
			}
			return true
		})
	}
	return urls
}

// ExtractPhone finds the first mobile number in text after dropping spaces and dashes.
func ExtractPhone(text string) string {
	if text == "" {
		return ""
	}
	compact := strings.NewReplacer(" ", "", "-", "").Replace(text)
	return phonePattern.FindString(compact)
}

func firstNonEmpty(values ...gjson.Result) gjson.Result {
	for _, v := range values {
		if v.Exists() && v.String() != "" {
			return v
		}
	}
	return gjson.Result{}
}

func parseTimestamp(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		return fromEpoch(v.Int())
	case gjson.String:
		s := v.String()
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n)
		}
	}
	return time.Time{}
}

func fromEpoch(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
