package web

import (
	"net/http"
)

const flashCookie = "marketupdate_flash"

// Flash codes. The cookie carries only the code; the text is looked up here.
const (
	flashCreated = "created"
)

var flashNotices = map[string]Notice{
	flashCreated: {Category: CategorySuccess, Message: MsgCreated},
}

// setFlash stores a notice code for the next page view.
func setFlash(w http.ResponseWriter, code string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    code,
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash clears the pending notice and returns it when the code is known.
func popFlash(w http.ResponseWriter, r *http.Request) (Notice, bool) {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return Notice{}, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	n, ok := flashNotices[c.Value]
	return n, ok
}
