package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/bcrypt"

	"dqx0.com/go/burrow/httpx"
	"dqx0.com/go/burrow/internal/obs"
)

// BasicAuth gates requests behind HTTP Basic authentication. Passwords
// are bcrypt hashes keyed by user name.
//
// An authenticated request is passed to Next when set; otherwise it is
// left unhandled so that a Chain moves on to the next handler. The user
// name is stored in the request property "user".
type BasicAuth struct {
	Realm string
	// Users maps user names to bcrypt hashes. UsersFile, when set, is
	// loaded into it at Initialize.
	Users     map[string]string
	UsersFile string
	// Next names a registered handler to delegate to.
	Next string

	next httpx.Handler
	log  *slog.Logger
}

// NewBasicAuth reads realm, users (a TOML file) and next.
func NewBasicAuth(name string, opts httpx.Options) (httpx.Handler, error) {
	a := &BasicAuth{
		Realm:     opts.String("realm", ""),
		UsersFile: opts.String("users", ""),
		Next:      opts.String("next", ""),
	}
	if a.UsersFile == "" {
		return nil, errors.New("users not set")
	}
	return a, nil
}

func (a *BasicAuth) Initialize(name string, srv *httpx.Server) bool {
	a.log = obs.OrDiscard(srv.Logger).With("handler", name)
	if a.UsersFile != "" {
		users, err := LoadUsers(a.UsersFile)
		if err != nil {
			a.log.Error("cannot load users", "err", err)
			return false
		}
		if a.Users == nil {
			a.Users = users
		} else {
			for u, h := range users {
				a.Users[u] = h
			}
		}
	}
	if a.Next != "" {
		h, ok := srv.Lookup(a.Next)
		if !ok {
			a.log.Error("next handler not registered", "next", a.Next)
			return false
		}
		a.next = h
	}
	return true
}

func (a *BasicAuth) Handle(req *httpx.Request, resp *httpx.Response) (bool, error) {
	user, pass, ok := basicCredentials(req.Header.Get("Authorization"))
	if !ok {
		return true, a.challenge(resp)
	}
	hash, known := a.Users[user]
	if !known || bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
		a.log.Info("access denied", "user", user, "remote", req.RemoteAddr)
		return true, a.challenge(resp)
	}
	req.SetProperty("user", user)
	if a.next != nil {
		return a.next.Handle(req, resp)
	}
	return false, nil
}

func (a *BasicAuth) challenge(resp *httpx.Response) error {
	realm := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(a.Realm)
	resp.Header.Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	return resp.SendError(401, "")
}

func (a *BasicAuth) Shutdown(*httpx.Server) bool { return true }

func basicCredentials(v string) (user, pass string, ok bool) {
	scheme, enc, found := strings.Cut(strings.TrimSpace(v), " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(raw), ":")
}

// LoadUsers reads a TOML users file of `name = "bcrypt hash"` pairs.
func LoadUsers(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	users := map[string]string{}
	if err := toml.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("users %s: %w", path, err)
	}
	return users, nil
}

// HashPassword returns the bcrypt hash stored in users files.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// SetPassword stores a hash of password for user in the users file at
// path, creating the file when missing.
func SetPassword(path, user, password string) error {
	users, err := LoadUsers(path)
	if errors.Is(err, os.ErrNotExist) {
		users, err = map[string]string{}, nil
	}
	if err != nil {
		return err
	}
	if users[user], err = HashPassword(password); err != nil {
		return err
	}
	data, err := toml.Marshal(users)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
