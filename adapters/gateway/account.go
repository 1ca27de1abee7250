package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"rcie/domain/core"
	"rcie/internal/errors"
	"rcie/ports"
)

// UploadDataset sends the file as multipart form field "file" and returns the
// reference the gateway stored it under.
func (c *Client) UploadDataset(ctx context.Context, filename string, content io.Reader) (core.DatasetRef, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", core.NewValidationError("filename", "required")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return "", errors.Wrap(err, "create upload form")
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", errors.Wrapf(err, "read dataset %s", name)
	}
	if err := form.Close(); err != nil {
		return "", errors.Wrap(err, "finish upload form")
	}

	var resp uploadResponse
	if err := c.send(ctx, "upload", http.MethodPost, "/upload", form.FormDataContentType(), buf.Bytes(), &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Filename) == "" {
		return "", remoteProtocolError("upload", core.NewMissingFieldError("upload", "filename"))
	}
	return core.DatasetRef(resp.Filename), nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (*ports.AuthResult, error) {
	var resp authResponse
	if err := c.postJSON(ctx, "login", "/auth/login", authRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, remoteProtocolError("login", core.NewMissingFieldError("login", "status"))
	}
	if resp.Status != "success" {
		return nil, errors.ExternalServiceError("gateway login", fmt.Errorf("%w: login status %q", core.ErrRemote, resp.Status))
	}
	return &ports.AuthResult{Status: resp.Status, Token: resp.Token}, nil
}

// Signup registers a new account. It does not log in.
func (c *Client) Signup(ctx context.Context, email, password, fullName string) (*ports.AuthResult, error) {
	var resp authResponse
	req := authRequest{Email: email, Password: password, FullName: fullName}
	if err := c.postJSON(ctx, "signup", "/auth/signup", req, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, remoteProtocolError("signup", core.NewMissingFieldError("signup", "status"))
	}
	return &ports.AuthResult{Status: resp.Status, Token: resp.Token}, nil
}
