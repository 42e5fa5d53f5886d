package apiexec

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/icholy/digest"

	"github.com/probenet-io/probenet/pkg/types"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// maskedHeaders are recorded as "***" in sanitized requests.
var maskedHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"api-key":       true,
	"token":         true,
}

// builtRequest is a ready-to-send request plus its sanitized record.
type builtRequest struct {
	req       *http.Request
	client    *http.Client
	sanitized *types.SanitizedRequest
}

// buildRequest resolves variables, assembles the HTTP request, and applies
// authentication. defaultAuth is the program-level scheme used when the step
// has none of its own.
func buildRequest(ctx Context, step *types.Step, defaultAuth *types.Authentication) (*builtRequest, error) {
	r := &step.Request

	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	rawURL := ctx.Substitute(r.URL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if len(r.Params) > 0 {
		q := u.Query()
		for k, v := range ctx.SubstituteMap(r.Params) {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body *bytes.Reader
	var sanitizedBody any
	contentType := ""
	if r.Body != nil {
		switch {
		case len(r.Body.JSON) > 0:
			resolved := ctx.Substitute(string(r.Body.JSON))
			body = bytes.NewReader([]byte(resolved))
			contentType = "application/json"
			sanitizedBody = sanitizeJSONBody([]byte(resolved))
		case len(r.Body.Form) > 0:
			form := url.Values{}
			masked := make(map[string]string, len(r.Body.Form))
			for k, v := range ctx.SubstituteMap(r.Body.Form) {
				form.Set(k, v)
				if strings.EqualFold(k, "password") {
					masked[k] = "***"
				} else {
					masked[k] = v
				}
			}
			body = bytes.NewReader([]byte(form.Encode()))
			contentType = "application/x-www-form-urlencoded"
			sanitizedBody = masked
		case r.Body.Text != "":
			resolved := ctx.Substitute(r.Body.Text)
			body = bytes.NewReader([]byte(resolved))
			contentType = "text/plain"
			sanitizedBody = resolved
		}
	}

	var req *http.Request
	if body != nil {
		req, err = http.NewRequest(method, u.String(), body)
	} else {
		req, err = http.NewRequest(method, u.String(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range ctx.SubstituteMap(r.Headers) {
		req.Header.Set(k, v)
	}

	auth := r.Auth
	if auth == nil {
		auth = defaultAuth
	}

	client := newClient(r.Timeout, r.TLS)
	if auth != nil {
		if err := applyAuth(ctx, req, client, auth); err != nil {
			return nil, err
		}
	}

	return &builtRequest{
		req:       req,
		client:    client,
		sanitized: sanitizeRequest(req, sanitizedBody),
	}, nil
}

// newClient builds a per-step client honoring the step timeout and TLS opts.
func newClient(timeout *types.StepTimeout, tlsOpts *types.StepTLS) *http.Client {
	connect := defaultConnectTimeout
	read := defaultReadTimeout
	if timeout != nil {
		if timeout.ConnectSeconds > 0 {
			connect = time.Duration(timeout.ConnectSeconds * float64(time.Second))
		}
		if timeout.ReadSeconds > 0 {
			read = time.Duration(timeout.ReadSeconds * float64(time.Second))
		}
	}

	transport := &http.Transport{
		DialContext:       (&net.Dialer{Timeout: connect}).DialContext,
		DisableKeepAlives: true,
	}
	if tlsOpts != nil && tlsOpts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   connect + read,
	}
}

// applyAuth wires the chosen scheme onto the request or the client transport.
func applyAuth(ctx Context, req *http.Request, client *http.Client, auth *types.Authentication) error {
	switch auth.Type {
	case types.AuthTypeBasic:
		req.SetBasicAuth(ctx.Substitute(auth.Username), ctx.Substitute(auth.Password))
	case types.AuthTypeBearer:
		req.Header.Set("Authorization", "Bearer "+ctx.Substitute(auth.Token))
	case types.AuthTypeAPIKey:
		key := auth.Key
		if key == "" {
			key = "X-API-Key"
		}
		value := ctx.Substitute(auth.Value)
		if strings.EqualFold(auth.In, "query") {
			q := req.URL.Query()
			q.Set(key, value)
			req.URL.RawQuery = q.Encode()
		} else {
			req.Header.Set(key, value)
		}
	case types.AuthTypeDigest:
		client.Transport = &digest.Transport{
			Username:  ctx.Substitute(auth.Username),
			Password:  ctx.Substitute(auth.Password),
			Transport: client.Transport,
		}
	case types.AuthTypeOAuth2:
		token := auth.AccessToken
		if token == "" {
			token = auth.Token
		}
		req.Header.Set("Authorization", "Bearer "+ctx.Substitute(token))
	case types.AuthTypeOAuth1:
		cfg := oauth1.NewConfig(ctx.Substitute(auth.ConsumerKey), ctx.Substitute(auth.ConsumerSecret))
		token := oauth1.NewToken(ctx.Substitute(auth.Token), ctx.Substitute(auth.TokenSecret))
		base := client.Transport
		oc := cfg.Client(oauth1.NoContext, token)
		if t, ok := oc.Transport.(*oauth1.Transport); ok {
			t.Base = base
			client.Transport = t
		} else {
			client.Transport = oc.Transport
		}
	case "":
		// no auth
	default:
		return fmt.Errorf("unsupported auth type: %s", auth.Type)
	}
	return nil
}

// sanitizeRequest records the request with credential material masked.
func sanitizeRequest(req *http.Request, body any) *types.SanitizedRequest {
	headers := make(map[string]string, len(req.Header))
	for k, vs := range req.Header {
		if len(vs) == 0 {
			continue
		}
		if maskedHeaders[strings.ToLower(k)] {
			headers[k] = "***"
		} else {
			headers[k] = vs[0]
		}
	}
	return &types.SanitizedRequest{
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: headers,
		Body:    body,
	}
}

// sanitizeJSONBody masks top-level "password" fields of object bodies.
func sanitizeJSONBody(data []byte) any {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return string(data)
	}
	if _, ok := obj["password"]; ok {
		obj["password"] = "***"
	}
	return obj
}
