package web

import (
	"bytes"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-update/internal/metrics"
	"github.com/JakeFAU/market-update/internal/subscription"
)

const (
	pageIndex  = "index"
	pageSignup = "signup"
	pageHello  = "hello"
)

// User-facing notice texts.
const (
	MsgCreated        = "Thank you for signing up!"
	MsgAlreadyExists  = "This email is already subscribed."
	MsgInvalidEmail   = "Please provide a valid email address."
	MsgCaptchaFailed  = "CAPTCHA verification failed. Please try again."
	MsgCaptchaOffline = "We could not verify the CAPTCHA right now. Please try again."
	MsgStoreFailed    = "We could not save your subscription. Please try again later."
)

// Notice categories, used as CSS modifiers.
const (
	CategorySuccess = "success"
	CategoryWarning = "warning"
	CategoryDanger  = "danger"
)

// Notice is a one-shot message shown above the page content.
type Notice struct {
	Category string
	Message  string
}

type pageData struct {
	Title   string
	Action  string
	Email   string
	SiteKey string
	Notices []Notice
}

var pageTitles = map[string]string{
	pageIndex:  "Daily Market Update",
	pageSignup: "Sign up - Daily Market Update",
	pageHello:  "Thank you - Daily Market Update",
}

func formAction(page string) string {
	if page == pageSignup {
		return "/signup"
	}
	return "/"
}

func (s *Server) showForm(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.render(w, http.StatusOK, page, pageData{})
	}
}

func (s *Server) submit(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			metrics.ObserveSignup(subscription.OutcomeInvalid.String())
			s.renderNotice(w, http.StatusBadRequest, page, "", CategoryDanger, MsgInvalidEmail)
			return
		}
		email := strings.TrimSpace(r.PostForm.Get("email"))

		if s.verifier != nil {
			ok, err := s.verifier.Verify(r.Context(), r.PostForm.Get("g-recaptcha-response"), clientIP(r))
			if err != nil {
				s.logger.Error("captcha verification error", zap.Error(err))
				metrics.ObserveSignup("captcha_error")
				s.renderNotice(w, http.StatusBadGateway, page, email, CategoryDanger, MsgCaptchaOffline)
				return
			}
			if !ok {
				metrics.ObserveSignup("captcha_failed")
				s.renderNotice(w, http.StatusOK, page, email, CategoryDanger, MsgCaptchaFailed)
				return
			}
		}

		outcome, err := s.subs.Subscribe(r.Context(), email)
		if err != nil {
			s.logger.Error("subscribe failed", zap.Error(err))
			metrics.ObserveSignup("error")
			s.renderNotice(w, http.StatusInternalServerError, page, email, CategoryDanger, MsgStoreFailed)
			return
		}
		metrics.ObserveSignup(outcome.String())

		switch outcome {
		case subscription.OutcomeCreated:
			setFlash(w, flashCreated)
			http.Redirect(w, r, "/thank-you", http.StatusSeeOther)
		case subscription.OutcomeAlreadyExists:
			s.renderNotice(w, http.StatusOK, page, email, CategoryWarning, MsgAlreadyExists)
		default:
			s.renderNotice(w, http.StatusBadRequest, page, email, CategoryDanger, MsgInvalidEmail)
		}
	}
}

func (s *Server) thankYou(w http.ResponseWriter, r *http.Request) {
	var notices []Notice
	if n, ok := popFlash(w, r); ok {
		notices = append(notices, n)
	}
	s.render(w, http.StatusOK, pageHello, pageData{Notices: notices})
}

func (s *Server) renderNotice(w http.ResponseWriter, status int, page, email, category, message string) {
	s.render(w, status, page, pageData{
		Email:   email,
		Notices: []Notice{{Category: category, Message: message}},
	})
}

// render buffers the page so a template error can still produce a clean 500.
func (s *Server) render(w http.ResponseWriter, status int, page string, data pageData) {
	data.Title = pageTitles[page]
	data.Action = formAction(page)
	data.SiteKey = s.cfg.SiteKey
	if s.verifier == nil {
		data.SiteKey = ""
	}

	var buf bytes.Buffer
	if err := s.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error("render template failed", zap.String("page", page), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
