package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // signature scheme mandated by the upload API
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
)

// Store uploads image data under folder/stableID and returns the public id
// assigned by the remote. Uploading the same stableID again overwrites the
// previous asset, so retries never create a second copy.
func (c *Client) Store(ctx context.Context, data []byte, contentType, stableID string) (string, error) {
	if stableID == "" {
		return "", fmt.Errorf("%w: empty public id", ErrUpload)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrUpload)
	}

	result, err := c.upload(ctx, data, contentType, stableID)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUpload, stableID, err)
	}
	if result.PublicID == "" {
		return "", fmt.Errorf("%w: %s: response has no public_id", ErrUpload, stableID)
	}
	return result.PublicID, nil
}

func (c *Client) upload(ctx context.Context, data []byte, contentType, stableID string) (*UploadResult, error) {
	params := map[string]string{
		"folder":    c.folder,
		"overwrite": "true",
		"public_id": stableID,
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	params["signature"] = Sign(params, c.apiSecret)
	params["api_key"] = c.apiKey

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for _, key := range sortedKeys(params) {
		if err := writer.WriteField(key, params[key]); err != nil {
			return nil, fmt.Errorf("could not write form field: %w", err)
		}
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, stableID+".jpg"))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("could not copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolveURL("image/upload"), &body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var result UploadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return &result, nil
}

// Sign computes the API request signature: the parameters sorted by name,
// joined as "k=v&k=v", with the secret appended, SHA-1 hashed.
func Sign(params map[string]string, secret string) string {
	var parts []string
	for _, key := range sortedKeys(params) {
		switch key {
		case "file", "api_key", "signature", "resource_type", "cloud_name":
			continue
		}
		if params[key] == "" {
			continue
		}
		parts = append(parts, key+"="+params[key])
	}

	sum := sha1.Sum([]byte(strings.Join(parts, "&") + secret)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
