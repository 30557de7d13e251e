// Package webhook is the HTTP surface of the service: provider webhook
// endpoints, a health probe and the basic-auth operator API.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/aicollect/internal/config"
	"github.com/digkill/aicollect/internal/line"
	"github.com/digkill/aicollect/internal/models"
	"github.com/digkill/aicollect/internal/service"
	"github.com/digkill/aicollect/internal/storage"
	"github.com/digkill/aicollect/internal/stripe"
)

// ChatHandler consumes verified chat events; implemented by the conversation
// engine.
type ChatHandler interface {
	HandleEvent(ctx context.Context, evt line.Event) error
}

// BillingHandler consumes verified billing events; implemented by the
// webhook reconciler.
type BillingHandler interface {
	HandleEvent(ctx context.Context, evt *stripe.Event) error
}

// AdminAPI is the operator surface behind basic auth.
type AdminAPI interface {
	ListCompanies(ctx context.Context) ([]models.Company, error)
	OnboardCompany(ctx context.Context, name, email string) (*models.Company, error)
	CompanyUsage(ctx context.Context, companyID int64) ([]models.UsageLogEntry, error)
	ForceReconcile(ctx context.Context, companyID int64) (*service.ReconcileResult, error)
}

type Server struct {
	cfg     config.Config
	log     *slog.Logger
	chat    ChatHandler
	billing BillingHandler
	admin   AdminAPI
	archive *storage.Archive
	router  *chi.Mux
}

func NewServer(cfg config.Config, log *slog.Logger, chat ChatHandler, billingHandler BillingHandler, admin AdminAPI, archive *storage.Archive) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:     cfg,
		log:     log,
		chat:    chat,
		billing: billingHandler,
		admin:   admin,
		archive: archive,
		router:  r,
	}
	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/line", s.handleLineWebhook)
	r.Post("/webhook/stripe", s.handleStripeWebhook)
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Route("/admin/companies", func(r chi.Router) {
			r.Get("/", s.handleListCompanies)
			r.Post("/", s.handleOnboardCompany)
			r.Get("/{id}/usage", s.handleCompanyUsage)
			r.Post("/{id}/reconcile", s.handleForceReconcile)
		})
	})
	return s
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("webhook server listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleLineWebhook verifies the channel signature, then processes each event
// in the batch. Per-event failures are logged but the delivery is still
// acknowledged: the platform does not redeliver chat events usefully and a
// retry would burn the reply tokens anyway.
func (s *Server) handleLineWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if !line.ValidateSignature(s.cfg.LineChannelSecret, body, r.Header.Get("X-Line-Signature")) {
		s.log.Warn("line webhook signature rejected")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	s.archivePayload(r.Context(), "line", body)

	events, err := line.ParseWebhook(body)
	if err != nil {
		s.log.Error("line webhook parse", "err", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	for _, evt := range events {
		if err := s.chat.HandleEvent(r.Context(), evt); err != nil {
			s.log.Error("chat event failed", "type", evt.Type, "err", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// handleStripeWebhook verifies the event signature and hands it to the
// reconciler. Processing failures return 500 so the provider redelivers;
// every reconciliation step is idempotent under redelivery.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if err := stripe.VerifySignature(body, r.Header.Get("Stripe-Signature"), s.cfg.StripeWebhookSecret, time.Now()); err != nil {
		s.log.Warn("stripe webhook signature rejected", "err", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	s.archivePayload(r.Context(), "stripe", body)

	evt, err := stripe.ParseEvent(body)
	if err != nil {
		s.log.Error("stripe webhook parse", "err", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.billing.HandleEvent(r.Context(), evt); err != nil {
		s.log.Error("billing event failed", "type", evt.Type, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) archivePayload(ctx context.Context, source string, body []byte) {
	key, err := s.archive.Store(ctx, source, body)
	if err != nil {
		s.log.Error("payload archive failed", "source", source, "err", err)
		return
	}
	if key != "" {
		s.log.Debug("payload archived", "source", source, "key", key)
	}
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.admin.ListCompanies(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, companies)
}

type onboardRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) handleOnboardCompany(w http.ResponseWriter, r *http.Request) {
	var req onboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		http.Error(w, "email required", http.StatusBadRequest)
		return
	}
	company, err := s.admin.OnboardCompany(r.Context(), req.Name, req.Email)
	if err != nil {
		if errors.Is(err, service.ErrCompanyExists) {
			http.Error(w, "company already registered", http.StatusConflict)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, company)
}

func (s *Server) handleCompanyUsage(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	entries, err := s.admin.CompanyUsage(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrCompanyNotFound) {
			http.Error(w, "company not found", http.StatusNotFound)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleForceReconcile(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	result, err := s.admin.ForceReconcile(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCompanyNotFound):
			http.Error(w, "company not found", http.StatusNotFound)
		case errors.Is(err, service.ErrSubscriptionInactive):
			http.Error(w, "company has no subscription", http.StatusConflict)
		default:
			s.internalError(w, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"charged":  len(result.Charged),
		"degraded": result.Degraded,
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.cfg.AdminUsername || pass != s.cfg.AdminPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="aicollect"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
