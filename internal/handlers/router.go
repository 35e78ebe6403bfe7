package handlers

import (
	"net/http"
	"strings"
	"time"

	"dicebet/internal/config"
	"dicebet/internal/db"
	"dicebet/internal/logger"
	"dicebet/internal/middleware"
	"dicebet/internal/store"
	"dicebet/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

type Dependencies struct {
	TxRunner       db.TxRunner
	Accounts       AccountStore
	Wagers         WagerStore
	Rounds         RoundStore
	Deposits       DepositStore
	Withdrawals    WithdrawalStore
	PaymentMethods PaymentMethodStore
	Settings       SettingsStore
	Ledger         LedgerStore
	Admin          AdminStore
	Audit          AuditStore
	Proofs         ProofStore
	RoundService   RoundService
	WagerService   WagerService
	FundsService   FundsService
	Hub            *websocket.Hub
}

type Handler struct {
	cfg            config.Config
	txRunner       db.TxRunner
	accounts       AccountStore
	wagers         WagerStore
	rounds         RoundStore
	deposits       DepositStore
	withdrawals    WithdrawalStore
	paymentMethods PaymentMethodStore
	settings       SettingsStore
	ledger         LedgerStore
	admin          AdminStore
	audit          AuditStore
	proofs         ProofStore
	roundService   RoundService
	wagerService   WagerService
	fundsService   FundsService
	hub            *websocket.Hub
	now            func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Handler {
	return &Handler{
		cfg:            cfg,
		txRunner:       deps.TxRunner,
		accounts:       deps.Accounts,
		wagers:         deps.Wagers,
		rounds:         deps.Rounds,
		deposits:       deps.Deposits,
		withdrawals:    deps.Withdrawals,
		paymentMethods: deps.PaymentMethods,
		settings:       deps.Settings,
		ledger:         deps.Ledger,
		admin:          deps.Admin,
		audit:          deps.Audit,
		proofs:         deps.Proofs,
		roundService:   deps.RoundService,
		wagerService:   deps.WagerService,
		fundsService:   deps.FundsService,
		hub:            deps.Hub,
		now:            time.Now,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(logger.HTTPMiddleware)
	router.Use(middleware.Recover)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(h.cfg.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/", h.Status)
	router.Post("/cadastro", h.Register)
	router.Post("/login", h.Login)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Get("/me", h.Me)
		r.Get("/jogo", h.GameState)
		r.Post("/jogo/apostar", h.PlaceWager)
		r.Post("/processar-resultado", h.ConfirmOutcome)
		r.Get("/depositar", h.DepositOptions)
		r.Post("/depositar", h.SubmitDeposit)
		r.Post("/sacar", h.RequestWithdrawal)
		r.Get("/convite", h.Invite)
		r.Get("/historico", h.History)
		r.Get("/ws/jogo", h.WSGame)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.admin, store.RoleReviewFunds))
			r.Get("/deposits", h.AdminListDeposits)
			r.Post("/deposits/approve-pending", h.AdminApprovePendingDeposits)
			r.Post("/deposits/{id}/approve", h.AdminApproveDeposit)
			r.Post("/deposits/{id}/reject", h.AdminRejectDeposit)
			r.Get("/deposits/proofs/{ref}", h.AdminDepositProof)
			r.Get("/withdrawals", h.AdminListWithdrawals)
			r.Post("/withdrawals/{id}/approve", h.AdminApproveWithdrawal)
			r.Post("/withdrawals/{id}/reject", h.AdminRejectWithdrawal)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.admin, store.RoleManageGame))
			r.Get("/payment-methods", h.AdminListPaymentMethods)
			r.Post("/payment-methods", h.AdminCreatePaymentMethod)
			r.Post("/payment-methods/{id}/active", h.AdminSetPaymentMethodActive)
			r.Put("/settings", h.AdminUpdateSettings)
			r.Get("/rounds", h.AdminListRounds)
			r.Post("/rounds/{id}/close", h.AdminCloseRound)
			r.Get("/wagers/total", h.AdminWagerTotals)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.admin, store.RoleViewAudit))
			r.Get("/audit", h.AdminListAudit)
			r.Get("/reconcile", h.AdminReconcile)
		})

		r.With(middleware.RequireAdmin(h.admin, "")).Post("/roles/grant", h.GrantRole)
		r.With(middleware.RequireAdmin(h.admin, "")).Post("/promote", h.PromoteAdmin)
	})
	return router
}
