package oauth2

import (
	"encoding/json"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// KakaoEndpoint is Kakao's OAuth 2.0 endpoint.
var KakaoEndpoint = oauth2.Endpoint{
	AuthURL:  "https://kauth.kakao.com/oauth/authorize",
	TokenURL: "https://kauth.kakao.com/oauth/token",
}

const kakaoUserInfoURL = "https://kapi.kakao.com/v2/user/me"

// Kakao is the gateway for Kakao federated login.
type Kakao struct {
	*Base
}

func NewKakao(clientID, clientSecret, callbackURL string) *Kakao {
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("OAUTH2_KAKAO_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_KAKAO_CLIENT_SECRET"))
	}
	if callbackURL == "" {
		callbackURL = strings.TrimSpace(os.Getenv("OAUTH2_KAKAO_CALLBACK_URL"))
	}

	conf := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  callbackURL,
		Endpoint:     KakaoEndpoint,
		Scopes:       []string{"account_email", "profile_nickname", "profile_image"},
	}
	return &Kakao{Base: NewBase(conf, kakaoUserInfoURL, parseKakaoProfile)}
}

// kakaoUserInfo mirrors the /v2/user/me payload. The numeric id is kept as a
// json.Number so it survives values above 2^53 unchanged.
type kakaoUserInfo struct {
	ID      json.Number `json:"id"`
	Account struct {
		Email   string `json:"email"`
		Profile struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

func parseKakaoProfile(data []byte) (*Profile, error) {
	var info kakaoUserInfo
	if err := decode(data, &info); err != nil {
		return nil, err
	}
	return &Profile{
		ProviderID:  info.ID.String(),
		Email:       info.Account.Email,
		DisplayName: info.Account.Profile.Nickname,
		AvatarURL:   info.Account.Profile.ProfileImageURL,
	}, nil
}
