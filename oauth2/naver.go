package oauth2

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// NaverEndpoint is Naver's OAuth 2.0 endpoint.
var NaverEndpoint = oauth2.Endpoint{
	AuthURL:  "https://nid.naver.com/oauth2.0/authorize",
	TokenURL: "https://nid.naver.com/oauth2.0/token",
}

const naverUserInfoURL = "https://openapi.naver.com/v1/nid/me"

// Naver is the gateway for Naver federated login.
type Naver struct {
	*Base
}

func NewNaver(clientID, clientSecret, callbackURL string) *Naver {
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("OAUTH2_NAVER_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_NAVER_CLIENT_SECRET"))
	}
	if callbackURL == "" {
		callbackURL = strings.TrimSpace(os.Getenv("OAUTH2_NAVER_CALLBACK_URL"))
	}

	conf := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  callbackURL,
		Endpoint:     NaverEndpoint,
	}
	return &Naver{Base: NewBase(conf, naverUserInfoURL, parseNaverProfile)}
}

// naverUserInfo mirrors the /v1/nid/me payload. Naver wraps the record in a
// resultcode envelope; "00" means success.
type naverUserInfo struct {
	ResultCode string `json:"resultcode"`
	Message    string `json:"message"`
	Response   struct {
		ID           string `json:"id"`
		Email        string `json:"email"`
		Nickname     string `json:"nickname"`
		ProfileImage string `json:"profile_image"`
	} `json:"response"`
}

func parseNaverProfile(data []byte) (*Profile, error) {
	var info naverUserInfo
	if err := decode(data, &info); err != nil {
		return nil, err
	}
	if info.ResultCode != "00" {
		return nil, fmt.Errorf("naver userinfo error: %s (%s)", info.Message, info.ResultCode)
	}
	return &Profile{
		ProviderID:  info.Response.ID,
		Email:       info.Response.Email,
		DisplayName: info.Response.Nickname,
		AvatarURL:   info.Response.ProfileImage,
	}, nil
}
