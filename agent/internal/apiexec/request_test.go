package apiexec

import (
	"net/http"
	"testing"

	"github.com/probenet-io/probenet/pkg/types"
)

func TestApplyAuthOAuth2(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
		auth types.Authentication
		want string
	}{
		{
			"access token as bearer header",
			Context{},
			types.Authentication{Type: types.AuthTypeOAuth2, AccessToken: "tok-123"},
			"Bearer tok-123",
		},
		{
			"access token resolves variables",
			Context{"$token": "resolved"},
			types.Authentication{Type: types.AuthTypeOAuth2, AccessToken: "$token"},
			"Bearer resolved",
		},
		{
			"token field used when access_token is absent",
			Context{},
			types.Authentication{Type: types.AuthTypeOAuth2, Token: "fallback"},
			"Bearer fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "https://api.example.com/me", nil)
			if err != nil {
				t.Fatal(err)
			}
			client := &http.Client{}
			if err := applyAuth(tt.ctx, req, client, &tt.auth); err != nil {
				t.Fatal(err)
			}
			if got := req.Header.Get("Authorization"); got != tt.want {
				t.Errorf("Authorization = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyAuthUnsupportedType(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := applyAuth(Context{}, req, &http.Client{}, &types.Authentication{Type: "kerberos"}); err == nil {
		t.Error("expected an error for an unknown auth type")
	}
}
