package web

import (
	"crypto/subtle"
	"net/http"

	"github.com/goji/httpauth"
	"github.com/gorilla/securecookie"
	log "github.com/sirupsen/logrus"
)

const (
	cookieName  = "idla-auth"
	cookieValue = "authenticated"
)

type AuthMiddleware struct {
	sc   *securecookie.SecureCookie
	opts httpauth.AuthOptions
}

// Setup new middleware for authenticating requests with the given user name and password.
func NewAuthMiddleware(user, password string) AuthMiddleware {
	hashKey := securecookie.GenerateRandomKey(32)
	blockKey := securecookie.GenerateRandomKey(32)
	return AuthMiddleware{
		sc: securecookie.New(hashKey, blockKey),
		opts: httpauth.AuthOptions{
			Realm:    "Restricted",
			AuthFunc: checkPassword(user, password),
		},
	}
}

// If session cookie is not present then use basic auth to login and set a cookie.
func (mw AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(cookieName); err == nil {
			var value string
			if err = mw.sc.Decode(cookieName, cookie.Value, &value); err == nil && value == cookieValue {
				next.ServeHTTP(w, r)
				return
			}
		}
		httpauth.BasicAuth(mw.opts)(mw.setCookie(next)).ServeHTTP(w, r)
	})
}

func (mw AuthMiddleware) setCookie(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if encoded, err := mw.sc.Encode(cookieName, cookieValue); err == nil {
			cookie := &http.Cookie{Name: cookieName, Value: encoded, Path: "/", HttpOnly: true}
			http.SetCookie(w, cookie)
		} else {
			log.WithError(err).Error("error encoding cookie")
		}
		h.ServeHTTP(w, r)
	})
}

func checkPassword(user, password string) func(string, string, *http.Request) bool {
	return func(u, p string, r *http.Request) bool {
		ok := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1 &&
			subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
		log.WithFields(log.Fields{"user": u, "ok": ok}).Info("auth")
		return ok
	}
}
