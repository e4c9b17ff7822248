package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"corpsim/internal/actions"
	"corpsim/internal/board"
	"corpsim/internal/config"
	"corpsim/internal/economy"
	"corpsim/internal/store"
	"corpsim/internal/tick"
	"corpsim/internal/valuation"
)

type contextKey string

const userContextKey contextKey = "user"

// UserHeader names the player an authenticated request acts for.
const UserHeader = "X-Corpsim-User"

var errBadRequest = errors.New("bad request")

type Services struct {
	Store     store.Store
	Economy   *economy.Engine
	Config    *economy.ConfigCache
	Catalog   economy.ConfigEditor
	Valuation *valuation.Engine
	Board     *board.Service
	Actions   *actions.Service
	Ticks     *tick.Runner
}

type Server struct {
	cfg config.Config
	log *slog.Logger
	svc Services
	mux *chi.Mux
}

func New(cfg config.Config, logger *slog.Logger, svc Services) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		log: logger,
		svc: svc,
		mux: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/market", s.handleMarket)
		r.Get("/market/commodities/{name}", s.handleCommodityPrice)
		r.Get("/market/products/{name}", s.handleProductPrice)
		r.Get("/market/history/{kind}/{name}", s.handlePriceHistory)
		r.Get("/economics/{sector}/{unit_type}", s.handleUnitEconomics)
		r.Get("/catalog", s.handleCatalog)

		r.Get("/corporations", s.handleCorporations)
		r.Get("/corporations/{id}", s.handleCorporation)
		r.Get("/corporations/{id}/valuation", s.handleValuation)
		r.Get("/corporations/{id}/financials", s.handleFinancials)
		r.Get("/corporations/{id}/board", s.handleBoard)
		r.Get("/corporations/{id}/transactions", s.handleTransactions)
		r.Get("/corporations/{id}/share-history", s.handleShareHistory)
		r.Get("/proposals/{id}", s.handleProposal)
		r.Get("/actions", s.handleActionCatalog)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/corporations/{id}/proposals", s.handleCreateProposal)
			r.Post("/proposals/{id}/votes", s.handleCastVote)
			r.Post("/corporations/{id}/actions", s.handleActivateAction)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/proposals/expired", s.handleExpiredProposals)
				r.Post("/proposals/{id}/resolve", s.handleResolveProposal)
				r.Post("/corporations/{id}/price", s.handleUpdatePrice)
				r.Post("/ticks/{kind}", s.handleRunTick)
				r.Post("/catalog/flows", s.handleAddFlow)
				r.Delete("/catalog/flows", s.handleRemoveFlow)
				r.Put("/catalog/units", s.handleSetUnitConfig)
			})
		})
	})
}

// authMiddleware checks the operator bearer token. The acting player, when
// an operation needs one, comes from UserHeader.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, strings.TrimSpace(r.Header.Get(UserHeader)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (string, error) {
	user, _ := ctx.Value(userContextKey).(string)
	if user == "" {
		return "", fmt.Errorf("%w: %s header is required", errBadRequest, UserHeader)
	}
	return user, nil
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Economy.MarketQuotes(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// supplyDemand reads optional supply/demand query overrides. Both must be
// present to take effect.
func supplyDemand(r *http.Request) (*economy.SupplyDemand, error) {
	q := r.URL.Query()
	if q.Get("supply") == "" && q.Get("demand") == "" {
		return nil, nil
	}
	supply, err := strconv.ParseFloat(q.Get("supply"), 64)
	if err != nil || supply < 0 {
		return nil, fmt.Errorf("%w: supply must be a non-negative number", errBadRequest)
	}
	demand, err := strconv.ParseFloat(q.Get("demand"), 64)
	if err != nil || demand < 0 {
		return nil, fmt.Errorf("%w: demand must be a non-negative number", errBadRequest)
	}
	return &economy.SupplyDemand{Supply: supply, Demand: demand}, nil
}

func (s *Server) handleCommodityPrice(w http.ResponseWriter, r *http.Request) {
	res, err := economy.ParseResource(chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sd, err := supplyDemand(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.svc.Economy.CalculateCommodityPrice(r.Context(), res, sd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProductPrice(w http.ResponseWriter, r *http.Request) {
	p, err := economy.ParseProduct(chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sd, err := supplyDemand(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.svc.Economy.CalculateProductPrice(r.Context(), p, sd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	var (
		kind economy.Kind
		name string
	)
	switch raw := chi.URLParam(r, "name"); chi.URLParam(r, "kind") {
	case "commodities", string(economy.KindResource):
		res, err := economy.ParseResource(raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		kind, name = economy.KindResource, string(res)
	case "products", string(economy.KindProduct):
		p, err := economy.ParseProduct(raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		kind, name = economy.KindProduct, string(p)
	default:
		writeError(w, http.StatusBadRequest, "kind must be commodities or products")
		return
	}
	out, err := s.svc.Store.PriceHistory(r.Context(), kind, name, limitParam(r, 100))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (s *Server) handleUnitEconomics(w http.ResponseWriter, r *http.Request) {
	sector, err := economy.ParseSector(chi.URLParam(r, "sector"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	unit, err := economy.ParseUnitType(chi.URLParam(r, "unit_type"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.svc.Economy.ComputeUnitEconomics(r.Context(), unit, sector, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := s.svc.Economy.Catalog(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (s *Server) handleCorporations(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Store.Corporations(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"corporations": out})
}

func (s *Server) handleCorporation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	corp, err := s.svc.Store.Corporation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	holders, err := s.svc.Store.Shareholders(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"corporation": corp, "shareholders": holders})
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.svc.Valuation.CalculateStockPrice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFinancials(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := s.svc.Store.Corporation(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	units, err := s.svc.Store.CorporationUnits(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	active, err := s.svc.Store.ActiveActions(r.Context(), id, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.svc.Valuation.CorporationFinancials(r.Context(), units, len(active))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"financials": out, "units": units, "active_actions": active})
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	members, err := s.svc.Board.GetBoardMembers(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.svc.Store.Transactions(r.Context(), id, limitParam(r, 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleShareHistory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.svc.Store.SharePriceHistory(r.Context(), id, limitParam(r, 100))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	p, err := s.svc.Store.Proposal(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	votes, err := s.svc.Store.Votes(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposal": p, "votes": votes})
}

func (s *Server) handleActionCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions.Catalog})
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.svc.Board.CreateProposal(r.Context(), board.CreateInput{
		CorporationID: id,
		ProposerID:    user,
		Type:          in.Type,
		Data:          in.Data,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Vote string `json:"vote"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.Board.CastVote(r.Context(), id, user, in.Vote)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActivateAction(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Type string `json:"type"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.svc.Actions.Activate(r.Context(), id, user, in.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleExpiredProposals(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Board.GetExpiredActiveProposals(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": out})
}

func (s *Server) handleResolveProposal(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.svc.Board.ResolveProposal(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	random := r.URL.Query().Get("random") == "1"
	price, err := s.svc.Valuation.UpdateStockPrice(r.Context(), id, random)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"corporation_id": id, "share_price": price})
}

func (s *Server) handleRunTick(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "1"
	var (
		out any
		err error
	)
	switch chi.URLParam(r, "kind") {
	case tick.KindHourly:
		out, err = s.svc.Ticks.RunHourlyTick(r.Context(), force)
	case tick.KindProposalExpiry:
		out, err = s.svc.Ticks.RunProposalExpirySweep(r.Context(), force)
	case tick.KindPriceSnapshot:
		out, err = s.svc.Ticks.RunPriceSnapshot(r.Context(), force)
	default:
		writeError(w, http.StatusNotFound, "unknown tick kind")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("manual tick", "kind", chi.URLParam(r, "kind"), "force", force)
	writeJSON(w, http.StatusOK, out)
}

// editCatalog publishes an admin edit and drops every derived cache.
func (s *Server) editCatalog(ctx context.Context, fn func(*economy.Catalog) error) error {
	if err := s.svc.Catalog.Update(ctx, fn); err != nil {
		return err
	}
	s.svc.Config.Invalidate()
	s.svc.Economy.ResetCaches()
	return nil
}

func (s *Server) handleAddFlow(w http.ResponseWriter, r *http.Request) {
	var f economy.Flow
	if err := decodeJSON(r, &f); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.editCatalog(r.Context(), func(c *economy.Catalog) error { return c.AddFlow(f) }); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleRemoveFlow(w http.ResponseWriter, r *http.Request) {
	var f economy.Flow
	if err := decodeJSON(r, &f); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.editCatalog(r.Context(), func(c *economy.Catalog) error { return c.RemoveFlow(f) }); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSetUnitConfig(w http.ResponseWriter, r *http.Request) {
	var uc economy.UnitConfig
	if err := decodeJSON(r, &uc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.editCatalog(r.Context(), func(c *economy.Catalog) error { return c.SetUnitConfig(uc) }); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uc)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, board.ErrValidation),
		errors.Is(err, economy.ErrUnknownSector), errors.Is(err, economy.ErrUnknownUnitType),
		errors.Is(err, economy.ErrUnknownResource), errors.Is(err, economy.ErrUnknownProduct),
		errors.Is(err, economy.ErrInvalidFlow), errors.Is(err, economy.ErrLastOutput),
		errors.Is(err, actions.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrInsufficientFunds), errors.Is(err, store.ErrNoActionPoints):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, board.ErrNotBoardMember), errors.Is(err, actions.ErrNotCEO):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, board.ErrProposalNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, board.ErrProposalClosed), errors.Is(err, store.ErrActionActive),
		errors.Is(err, economy.ErrDuplicateFlow), errors.Is(err, store.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", errBadRequest)
	}
	return id, nil
}

func limitParam(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	return min(n, 1000)
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
