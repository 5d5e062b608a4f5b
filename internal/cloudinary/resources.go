package cloudinary

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-finder/internal/constants"
)

// List returns every uploaded image whose public id starts with prefix,
// following the admin API pagination cursor. An empty prefix lists the
// client folder.
func (c *Client) List(ctx context.Context, prefix string) ([]Resource, error) {
	if prefix == "" {
		prefix = c.folder + "/"
	}

	var all []Resource
	cursor := ""
	for {
		query := url.Values{}
		query.Set("type", "upload")
		query.Set("prefix", prefix)
		query.Set("max_results", strconv.Itoa(constants.ListPageSize))
		if cursor != "" {
			query.Set("next_cursor", cursor)
		}

		page, err := doGetJSON[resourcesResponse](ctx, c, "resources/image/upload", query)
		if err != nil {
			return nil, fmt.Errorf("could not list resources: %w", err)
		}
		all = append(all, page.Resources...)

		if page.NextCursor == "" || page.NextCursor == cursor {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// Usage returns the account usage report.
func (c *Client) Usage(ctx context.Context) (*Usage, error) {
	usage, err := doGetJSON[Usage](ctx, c, "usage", nil)
	if err != nil {
		return nil, fmt.Errorf("could not fetch usage: %w", err)
	}
	return usage, nil
}

// DeliveryURL returns the CDN URL of a stored image with an optional
// transformation such as "w_400,h_400,c_fill".
func (c *Client) DeliveryURL(publicID, transformation string) string {
	parts := []string{c.deliveryURL, url.PathEscape(c.cloudName), "image", "upload"}
	if transformation != "" {
		parts = append(parts, transformation)
	}
	segments := strings.Split(publicID, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/") + "/" + path.Join(segments...)
}
