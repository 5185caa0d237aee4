// Package lib wires the challenge generator, the record store and the
// CAPTCHA admin proxy into one HTTP server.
package lib

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/uvensys/linkgate/internal"
	"github.com/uvensys/linkgate/lib/captcha"
	"github.com/uvensys/linkgate/lib/challenge"
	"github.com/uvensys/linkgate/lib/records"
	"github.com/uvensys/linkgate/lib/store"
)

// maxBodySize bounds caller-supplied request bodies. Upstream responses
// are capped separately by the captcha client.
const maxBodySize = 1 << 20

var slugRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,63}$`)

type Server struct {
	mux       *http.ServeMux
	opts      Options
	records   *records.Store
	captcha   *captcha.Client
	generator *challenge.Generator
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Generator exposes the challenge generator for proof verification
// elsewhere in the stack.
func (s *Server) Generator() *challenge.Generator {
	return s.generator
}

// Records exposes the typed record repositories.
func (s *Server) Records() *records.Store {
	return s.records
}

// MakeChallenge handles GET /api/challenge. It extracts the client
// identity set by the forwarding middleware, asks the generator for a
// challenge and maps the outcome onto the wire contract. Failure detail
// stays in the logs; callers only ever see the fixed messages.
func (s *Server) MakeChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	identity := r.Header.Get("X-Real-Ip")

	ch, err := s.generator.Generate(r.Context(), identity)
	switch {
	case err == nil:
		challengesIssued.WithLabelValues("ok").Inc()
		respondJSON(w, http.StatusOK, ch)
	case errors.Is(err, challenge.ErrRateLimited):
		challengesIssued.WithLabelValues("ratelimited").Inc()
		s.flagAbuse(r, identity)
		respondError(w, http.StatusTooManyRequests, "Rate limit exceeded. Maximum 10 challenges per minute.")
	default:
		challengesIssued.WithLabelValues("error").Inc()
		lg.Error("can't generate challenge", "err", err)
		respondError(w, http.StatusInternalServerError, "Failed to generate challenge")
	}
}

// flagAbuse records a suspicious-IP flag for an identity that keeps
// asking for challenges past the cap. Best-effort: a store hiccup here
// must not change the response.
func (s *Server) flagAbuse(r *http.Request, identity string) {
	count, err := s.records.FlagSuspicious(r.Context(), identity, "challenge rate limit exceeded")
	if err != nil {
		internal.GetRequestLogger(r).Error("can't flag suspicious ip", "err", err)
		return
	}

	suspiciousFlags.Inc()
	if count > 3 {
		internal.GetRequestLogger(r).Warn("repeat challenge rate limit offender", "ip", identity, "count", count)
	}
}

// AdminRateLimitGet handles GET /api/admin/ratelimit: authorize, forward,
// relay verbatim.
func (s *Server) AdminRateLimitGet(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	if !s.isAdmin(r) {
		adminProxyRequests.WithLabelValues(r.Method, "unauthorized").Inc()
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if !s.captcha.Configured() {
		adminProxyRequests.WithLabelValues(r.Method, "unconfigured").Inc()
		respondError(w, http.StatusInternalServerError, "CAPTCHA API not configured")
		return
	}

	resp, err := s.captcha.GetRateLimit(r.Context())
	if err != nil {
		adminProxyRequests.WithLabelValues(r.Method, "error").Inc()
		lg.Error("can't reach captcha admin api", "err", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	adminProxyRequests.WithLabelValues(r.Method, "relayed").Inc()
	relayUpstream(w, resp.StatusCode, resp.Body)
}

// AdminRateLimitPost handles POST /api/admin/ratelimit. The caller's JSON
// body goes upstream untouched; a failed upstream response is reduced to
// its error field, defaulting to "Failed to update".
func (s *Server) AdminRateLimitPost(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	if !s.isAdmin(r) {
		adminProxyRequests.WithLabelValues(r.Method, "unauthorized").Inc()
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if !s.captcha.Configured() {
		adminProxyRequests.WithLabelValues(r.Method, "unconfigured").Inc()
		respondError(w, http.StatusInternalServerError, "CAPTCHA API not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		adminProxyRequests.WithLabelValues(r.Method, "error").Inc()
		lg.Error("can't read request body", "err", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	resp, err := s.captcha.UpdateRateLimit(r.Context(), body)
	if err != nil {
		adminProxyRequests.WithLabelValues(r.Method, "error").Inc()
		lg.Error("can't reach captcha admin api", "err", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	adminProxyRequests.WithLabelValues(r.Method, "relayed").Inc()

	if !resp.OK() {
		var upstream errorResponse
		if err := json.Unmarshal(resp.Body, &upstream); err != nil || upstream.Error == "" {
			upstream.Error = "Failed to update"
		}
		respondError(w, resp.StatusCode, upstream.Error)
		return
	}

	relayUpstream(w, resp.StatusCode, resp.Body)
}

type createLinkRequest struct {
	URL  string `json:"url"`
	Slug string `json:"slug,omitempty"`
}

// CreateLink handles POST /api/links: a signed-in user registers a new
// short link with either a chosen or a generated slug.
func (s *Server) CreateLink(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	sess, ok := s.sessionFor(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req createLinkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	target, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		respondError(w, http.StatusBadRequest, "Invalid target URL")
		return
	}

	link := records.Link{
		TargetURL: target.String(),
		Owner:     sess.Email,
		CreatedAt: time.Now(),
	}

	if req.Slug != "" {
		if !slugRegexp.MatchString(req.Slug) {
			respondError(w, http.StatusBadRequest, "Invalid slug")
			return
		}

		link.Slug = req.Slug
		if err := s.records.CreateLink(r.Context(), link); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				respondError(w, http.StatusConflict, "Slug already in use")
				return
			}
			lg.Error("can't create link", "err", err)
			respondError(w, http.StatusInternalServerError, "Internal error")
			return
		}
	} else {
		created := false
		for attempt := 0; attempt < 4 && !created; attempt++ {
			slug, err := records.NewSlug()
			if err != nil {
				lg.Error("can't generate slug", "err", err)
				respondError(w, http.StatusInternalServerError, "Internal error")
				return
			}

			link.Slug = slug
			switch err := s.records.CreateLink(r.Context(), link); {
			case err == nil:
				created = true
			case errors.Is(err, store.ErrAlreadyExists):
				// collision, roll a new slug
			default:
				lg.Error("can't create link", "err", err)
				respondError(w, http.StatusInternalServerError, "Internal error")
				return
			}
		}
		if !created {
			lg.Error("slug space exhausted after retries")
			respondError(w, http.StatusInternalServerError, "Internal error")
			return
		}
	}

	// Best-effort: the link exists either way.
	if err := s.records.AttachLink(r.Context(), sess.Token, link.Slug); err != nil {
		lg.Warn("can't attach link to session", "err", err)
	}

	linksCreated.Inc()
	respondJSON(w, http.StatusCreated, link)
}
