package sso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"license-sso/internal/directory"
	"license-sso/internal/freemius"
	"license-sso/internal/observability"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type loginCall struct {
	email    string
	password string
}

type licenseCall struct {
	remoteUserID int64
	accessToken  string
	licenseType  freemius.LicenseType
	count        int64
}

type fakeRemote struct {
	loginCalls   []loginCall
	loginResp    *freemius.LoginResponse
	loginErr     error
	licenseCalls []licenseCall
	licenses     map[freemius.LicenseType]*freemius.LicenseListResponse
	licenseErr   error
}

func (f *fakeRemote) Login(ctx context.Context, email, password string) (*freemius.LoginResponse, error) {
	f.loginCalls = append(f.loginCalls, loginCall{email: email, password: password})
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if f.loginResp == nil {
		return &freemius.LoginResponse{}, nil
	}
	return f.loginResp, nil
}

func (f *fakeRemote) ListLicenses(ctx context.Context, remoteUserID int64, accessToken string, licenseType freemius.LicenseType, count int64) (*freemius.LicenseListResponse, error) {
	f.licenseCalls = append(f.licenseCalls, licenseCall{remoteUserID: remoteUserID, accessToken: accessToken, licenseType: licenseType, count: count})
	if f.licenseErr != nil {
		return nil, f.licenseErr
	}
	if resp, ok := f.licenses[licenseType]; ok {
		return resp, nil
	}
	return &freemius.LicenseListResponse{}, nil
}

func (f *fakeRemote) callsOfType(licenseType freemius.LicenseType) []licenseCall {
	var calls []licenseCall
	for _, call := range f.licenseCalls {
		if call.licenseType == licenseType {
			calls = append(calls, call)
		}
	}
	return calls
}

func grantToken(personID int64, access, refresh string, expires time.Time) *freemius.LoginResponse {
	return &freemius.LoginResponse{UserToken: &freemius.UserToken{
		Person: freemius.Person{ID: freemius.ID(personID), Email: "jane@example.com", First: "Jane", Last: "Doe"},
		Token:  freemius.Token{Access: access, Refresh: refresh, Expires: freemius.ID(expires.Unix())},
	}}
}

type fakeDirectory struct {
	users     map[string]directory.User
	meta      map[string]map[string][]byte
	createErr error
	metaErr   error
	created   []directory.User
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users: make(map[string]directory.User),
		meta:  make(map[string]map[string][]byte),
	}
}

func (d *fakeDirectory) add(user directory.User) directory.User {
	d.users[user.ID] = user
	return user
}

func (d *fakeDirectory) GetByID(ctx context.Context, id string) (directory.User, error) {
	user, ok := d.users[id]
	if !ok {
		return directory.User{}, directory.ErrUserNotFound
	}
	return user, nil
}

func (d *fakeDirectory) GetByEmail(ctx context.Context, email string) (directory.User, error) {
	for _, user := range d.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return directory.User{}, directory.ErrUserNotFound
}

func (d *fakeDirectory) UsernameExists(ctx context.Context, username string) (bool, error) {
	for _, user := range d.users {
		if user.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) Create(ctx context.Context, username, plainPassword, email string) (directory.User, error) {
	if d.createErr != nil {
		return directory.User{}, d.createErr
	}
	user := directory.User{ID: fmt.Sprintf("u-%d", len(d.users)+1), Username: username, Email: email, PasswordHash: "hash:" + plainPassword}
	d.users[user.ID] = user
	d.created = append(d.created, user)
	return user, nil
}

func (d *fakeDirectory) GetMeta(ctx context.Context, userID, key string) ([]byte, error) {
	if d.metaErr != nil {
		return nil, d.metaErr
	}
	return d.meta[userID][key], nil
}

func (d *fakeDirectory) UpdateMeta(ctx context.Context, userID, key string, value []byte) error {
	if d.metaErr != nil {
		return d.metaErr
	}
	if d.meta[userID] == nil {
		d.meta[userID] = make(map[string][]byte)
	}
	d.meta[userID][key] = append([]byte(nil), value...)
	return nil
}

func (d *fakeDirectory) DeleteMeta(ctx context.Context, userID, key string) error {
	if d.metaErr != nil {
		return d.metaErr
	}
	delete(d.meta[userID], key)
	return nil
}

func (d *fakeDirectory) setMeta(userID, key, raw string) {
	if d.meta[userID] == nil {
		d.meta[userID] = make(map[string][]byte)
	}
	d.meta[userID][key] = []byte(raw)
}

func (d *fakeDirectory) rawMeta(userID, key string) (string, bool) {
	value, ok := d.meta[userID][key]
	return string(value), ok
}

type recordingNotifier struct {
	created   []directory.User
	succeeded []directory.User
}

func (n *recordingNotifier) UserCreated(ctx context.Context, user directory.User) {
	n.created = append(n.created, user)
}

func (n *recordingNotifier) LoginSucceeded(ctx context.Context, user directory.User) {
	n.succeeded = append(n.succeeded, user)
}

type fixture struct {
	remote        *fakeRemote
	users         *fakeDirectory
	notifier      *recordingNotifier
	store         *TokenStore
	entitlements  *EntitlementResolver
	authenticator *Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := observability.NewLoggerTo(io.Discard, "error")
	clock := func() time.Time { return testNow }

	f := &fixture{
		remote:   &fakeRemote{licenses: make(map[freemius.LicenseType]*freemius.LicenseListResponse)},
		users:    newFakeDirectory(),
		notifier: &recordingNotifier{},
	}
	f.store = NewTokenStore(f.users, logger)
	f.entitlements = NewEntitlementResolver(f.remote, f.store, logger).WithClock(clock)
	f.authenticator = NewAuthenticator(f.remote, f.users, f.store, f.entitlements, f.notifier, logger).WithClock(clock)
	return f
}

var errBoom = errors.New("boom")

func strPtr(value string) *string {
	return &value
}
