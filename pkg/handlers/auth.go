// OAuth login flow. Login redirects to the provider with a signed state
// cookie; the callback exchanges the code, resolves the account ID from the
// profile endpoint, persists the token, and issues the signed identity
// cookie the API routes authenticate against.

package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const stateCookie = "oauth_state"

// DefaultProfileURL is the production profile endpoint used to identify
// the account after the token exchange.
const DefaultProfileURL = "https://api.spotify.com/v1/me"

// Login starts the OAuth flow with a random signed state value.
func (app *Application) Login(w http.ResponseWriter, r *http.Request) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    signValue(state, app.SignKey),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, app.OAuth.AuthCodeURL(state), http.StatusFound)
}

// OAuthCallback finishes the flow: verify state, exchange the code, look
// up the account ID, store the token, set the identity cookie.
func (app *Application) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(stateCookie)
	if err != nil {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}
	state, ok := verifyValue(c.Value, app.SignKey)
	if !ok || r.URL.Query().Get("state") != state {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})

	token, err := app.OAuth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		app.Log.WithError(err).Error("oauth exchange failed")
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	profileURL := app.ProfileURL
	if profileURL == "" {
		profileURL = DefaultProfileURL
	}
	resp, err := app.OAuth.Client(r.Context(), token).Get(profileURL)
	if err != nil || resp.StatusCode != http.StatusOK {
		if resp != nil {
			resp.Body.Close()
		}
		http.Error(w, "failed to fetch profile", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()
	var profile struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil || profile.ID == "" {
		http.Error(w, "failed to decode profile", http.StatusInternalServerError)
		return
	}

	if err := app.History.SaveToken(r.Context(), profile.ID, token); err != nil {
		app.Log.WithField("user", profile.ID).WithError(err).Error("saving token")
		http.Error(w, "failed to store credentials", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     userCookie,
		Value:    signValue(profile.ID, app.SignKey),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout expires the identity cookie.
func (app *Application) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     userCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}
