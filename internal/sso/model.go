package sso

import (
	"encoding/json"
	"fmt"
	"time"

	"license-sso/internal/freemius"
)

// Tristate is a cached yes/no flag that may not have been computed yet.
type Tristate int

const (
	Unknown Tristate = iota
	Yes
	No
)

func TristateOf(value bool) Tristate {
	if value {
		return Yes
	}
	return No
}

func (t Tristate) String() string {
	switch t {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

func (t Tristate) MarshalJSON() ([]byte, error) {
	if t == Unknown {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

func (t *Tristate) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*t = Unknown
		return nil
	}

	switch *raw {
	case "yes":
		*t = Yes
	case "no":
		*t = No
	default:
		return fmt.Errorf("invalid tristate %q", *raw)
	}
	return nil
}

// TokenBundle is the cached remote credential of a local user. It is always
// replaced as a whole.
type TokenBundle struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Expires int64  `json:"expires"`
}

func (b TokenBundle) FreshAt(now time.Time) bool {
	return b.Expires > now.Unix()
}

func (b TokenBundle) ExpiresAt() time.Time {
	return time.Unix(b.Expires, 0).UTC()
}

func bundleFromToken(token freemius.Token) TokenBundle {
	return TokenBundle{Access: token.Access, Refresh: token.Refresh, Expires: int64(token.Expires)}
}

// sentinelBundle holds no credential but reads as fresh until now+validity,
// which keeps refreshes from hammering the API after an authorization
// failure.
func sentinelBundle(now time.Time, validity time.Duration) TokenBundle {
	return TokenBundle{Expires: now.Add(validity).Unix()}
}

type License = freemius.License

type EntitlementState struct {
	HasAnyLicense    Tristate
	HasActiveLicense Tristate
}
