package freemius

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type LicenseType string

const (
	LicenseTypeAll    LicenseType = "all"
	LicenseTypeActive LicenseType = "active"
)

// ID is an integer the API sends either as a JSON number or as a numeric
// string. An empty string or null decodes as 0.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var quoted string
		if err := json.Unmarshal(data, &quoted); err != nil {
			return err
		}
		raw = strings.TrimSpace(quoted)
		if raw == "" {
			*id = 0
			return nil
		}
	}

	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric id %s", string(data))
	}
	*id = ID(parsed)
	return nil
}

type Person struct {
	ID    ID     `json:"id"`
	Email string `json:"email"`
	First string `json:"first"`
	Last  string `json:"last"`
}

// Token is the access credential issued by the login endpoint. Expires is a
// unix timestamp in seconds.
type Token struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Expires ID     `json:"expires"`
}

type UserToken struct {
	Person Person `json:"person"`
	Token  Token  `json:"token"`
}

// APIError is the error object the API embeds in a response body. It is
// carried in the response, not returned as a Go error, because callers treat
// it differently from a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	HTTP    int    `json:"http"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("freemius api error %s (http %d): %s", e.Code, e.HTTP, e.Message)
}

type LoginResponse struct {
	UserToken *UserToken `json:"user_token,omitempty"`
	Error     *APIError  `json:"error,omitempty"`
}

// License mirrors the license entity of the API. Expiration is nil for
// lifetime licenses.
type License struct {
	ID          ID      `json:"id"`
	PluginID    ID      `json:"plugin_id,omitempty"`
	UserID      ID      `json:"user_id,omitempty"`
	PlanID      ID      `json:"plan_id,omitempty"`
	PricingID   ID      `json:"pricing_id,omitempty"`
	IsCancelled bool    `json:"is_cancelled"`
	Expiration  *string `json:"expiration"`
	Created     string  `json:"created,omitempty"`
}

type LicenseListResponse struct {
	Licenses []License `json:"licenses,omitempty"`
	Error    *APIError `json:"error,omitempty"`
}

// HasLicenses reports whether the response is error free and lists at least
// one license.
func (r *LicenseListResponse) HasLicenses() bool {
	return r != nil && r.Error == nil && len(r.Licenses) > 0
}

// TransportError is returned when a request could not be completed or its
// body could not be decoded.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("freemius %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
