// Package cloudinary is a small client for the Cloudinary upload and admin
// REST APIs.
package cloudinary

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/constants"
)

const (
	defaultAPIURL      = "https://api.cloudinary.com"
	defaultDeliveryURL = "https://res.cloudinary.com"
)

// Client uploads images into one folder of a Cloudinary cloud.
type Client struct {
	apiURL      string
	deliveryURL string
	cloudName   string
	apiKey      string
	apiSecret   string
	folder      string
	http        *http.Client
	now         func() time.Time
}

// New creates a client from configuration. Credentials are required.
func New(cfg config.CloudinaryConfig) (*Client, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary credentials are not configured")
	}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid cloudinary API URL: %w", err)
	}

	folder := strings.Trim(cfg.Folder, "/")
	if folder == "" {
		folder = constants.DefaultFolder
	}

	return &Client{
		apiURL:      strings.TrimSuffix(apiURL, "/"),
		deliveryURL: defaultDeliveryURL,
		cloudName:   cfg.CloudName,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		folder:      folder,
		http:        &http.Client{Timeout: cfg.Timeout},
		now:         time.Now,
	}, nil
}

// Folder returns the remote folder uploads land in.
func (c *Client) Folder() string {
	return c.folder
}

func (c *Client) CloudName() string {
	return c.cloudName
}

// resolveURL builds an API URL for the configured cloud, e.g.
// "image/upload" -> https://api.cloudinary.com/v1_1/<cloud>/image/upload
func (c *Client) resolveURL(endpoint string) string {
	return fmt.Sprintf("%s/v1_1/%s/%s", c.apiURL, url.PathEscape(c.cloudName), strings.TrimPrefix(endpoint, "/"))
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "(could not read error body)"
	}
	return strings.TrimSpace(string(body))
}
