package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chimiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/splitpocket/splitpocket/config"
	"github.com/splitpocket/splitpocket/eventlogger"
	"github.com/splitpocket/splitpocket/ledger"
	"github.com/splitpocket/splitpocket/middleware"
	"github.com/splitpocket/splitpocket/session"
	"github.com/splitpocket/splitpocket/user"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		printErrorAndExit("invalid configuration", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		printErrorAndExit("database connection", err)
	}
	if err = db.Ping(); err != nil {
		printErrorAndExit("pinging database", err)
	}

	evtlogger := eventlogger.NewSqlEventLogger(db)
	worker := eventlogger.NewWorker(evtlogger, cfg.EventBuffer)
	worker.Start()
	defer worker.Shutdown()

	var snapshots ledger.SnapshotStore
	switch cfg.DataBackend {
	case "postgres":
		snapshots = ledger.NewPostgresSnapshotStore(db)
	case "file":
		snapshots = ledger.NewFileSnapshotStore(cfg.SnapshotPath)
	default:
		snapshots = ledger.NewMemorySnapshotStore()
	}
	saver := ledger.NewSaver(snapshots, cfg.SnapshotBuffer)
	saver.Start()
	defer saver.Shutdown()

	store := ledger.NewStore(saver, ledger.WithEvents(worker))
	if err := store.Hydrate(context.Background()); err != nil {
		// Non-fatal: the app keeps running on empty in-memory state.
		slog.Error("failed to hydrate ledger, starting empty", "error", err)
	}
	slog.Info("ledger hydrated", "backend", cfg.DataBackend,
		"groups", len(store.Groups()), "expenses", len(store.Expenses()))

	userRepo := user.NewRepository(db)
	sessionRepo := session.NewRepository(db)

	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(middleware.AuthMiddleware(sessionRepo))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		worker.Log(eventlogger.NewEvent(
			eventlogger.WithType("health_request"),
			eventlogger.WithData(map[string]string{"message": "ok"}),
		))
		w.Write([]byte("ok"))
	})

	router.Post("/user/register", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"displayName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		registered, err := userRepo.Register(ctx, req.Email, req.Password, req.DisplayName)
		if err != nil {
			switch {
			case errors.Is(err, user.ErrEmailExists):
				writeError(w, http.StatusConflict, err.Error())
			case errors.Is(err, user.ErrBlankPassword),
				errors.Is(err, user.ErrInvalidEmail),
				errors.Is(err, user.ErrBlankName):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				slog.Error("failed to register user", "error", err)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}

		sess, err := sessionRepo.Create(ctx, registered.ID)
		if err != nil {
			slog.Error("failed to create session", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		setSessionCookie(w, sess)

		worker.Log(eventlogger.NewEvent(
			eventlogger.WithType("user.registered"),
			eventlogger.WithActor(registered.ID.String()),
			eventlogger.WithData(map[string]string{"email": registered.Email}),
		))

		writeJSON(w, http.StatusCreated, registered)
	})

	router.Post("/user/login", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		userdb, err := userRepo.GetByEmail(ctx, req.Email)
		if err != nil {
			slog.Error("failed to fetch user", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if userdb == nil || userRepo.VerifyPassword(userdb.PasswordHash, req.Password) != nil {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}

		sess, err := sessionRepo.Create(ctx, userdb.ID)
		if err != nil {
			slog.Error("failed to create session", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		setSessionCookie(w, sess)

		worker.Log(eventlogger.NewEvent(
			eventlogger.WithType("user.logged_in"),
			eventlogger.WithActor(userdb.ID.String()),
			eventlogger.WithData(map[string]string{"email": userdb.Email}),
		))

		writeJSON(w, http.StatusOK, userdb)
	})

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth())

		r.Get("/user/me", func(w http.ResponseWriter, req *http.Request) {
			userID, _ := middleware.GetUserID(req.Context())
			userdb, err := userRepo.GetByID(req.Context(), userID)
			if err != nil {
				slog.Error("failed to fetch user", "error", err)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if userdb == nil {
				writeError(w, http.StatusNotFound, "user not found")
				return
			}
			writeJSON(w, http.StatusOK, userdb)
		})

		r.Post("/user/logout", func(w http.ResponseWriter, req *http.Request) {
			if cookie, err := req.Cookie(session.CookieName); err == nil {
				sessionRepo.Delete(req.Context(), cookie.Value)
			}
			http.SetCookie(w, &http.Cookie{
				Name:   session.CookieName,
				Value:  "",
				Path:   "/",
				MaxAge: -1,
			})
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/user/profile/name", updateProfileName(userRepo))
		r.Post("/user/profile/photo", updateProfilePhoto(userRepo))

		r.Get("/groups", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query().Get("q")
			if q == "" {
				writeJSON(w, http.StatusOK, store.Groups())
				return
			}
			writeJSON(w, http.StatusOK, store.SearchGroups(q))
		})

		r.Post("/groups", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Name    string          `json:"name"`
				Members []ledger.Member `json:"members"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			group, err := store.AddGroup(body.Name, body.Members)
			if err != nil {
				writeLedgerError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, group)
		})

		r.Get("/groups/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			group, err := store.Group(id)
			if err != nil {
				writeLedgerError(w, err)
				return
			}
			expenses := store.GroupExpenses(id)
			balances, err := ledger.GroupBalances(expenses)
			if err != nil {
				writeLedgerError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"group":    group,
				"expenses": expenses,
				"balances": balances,
			})
		})

		r.Put("/groups/{id}", func(w http.ResponseWriter, req *http.Request) {
			var group ledger.Group
			if err := json.NewDecoder(req.Body).Decode(&group); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			group.ID = chi.URLParam(req, "id")
			if err := store.UpdateGroup(group); err != nil {
				writeLedgerError(w, err)
				return
			}
			updated, err := store.Group(group.ID)
			if err != nil {
				writeLedgerError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, updated)
		})

		r.Delete("/groups/{id}", func(w http.ResponseWriter, req *http.Request) {
			if err := store.DeleteGroup(chi.URLParam(req, "id")); err != nil {
				writeLedgerError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Post("/expenses", func(w http.ResponseWriter, req *http.Request) {
			var expense ledger.Expense
			if err := json.NewDecoder(req.Body).Decode(&expense); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			stored, err := store.AddExpense(expense)
			if err != nil {
				writeLedgerError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, stored)
		})

		r.Put("/expenses/{id}", func(w http.ResponseWriter, req *http.Request) {
			var expense ledger.Expense
			if err := json.NewDecoder(req.Body).Decode(&expense); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			expense.ID = chi.URLParam(req, "id")
			if err := store.UpdateExpense(expense); err != nil {
				writeLedgerError(w, err)
				return
			}
			stored, err := store.Expense(expense.ID)
			if err != nil {
				writeLedgerError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, stored)
		})

		r.Delete("/expenses/{id}", func(w http.ResponseWriter, req *http.Request) {
			if err := store.DeleteExpense(chi.URLParam(req, "id")); err != nil {
				writeLedgerError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/dashboard", func(w http.ResponseWriter, req *http.Request) {
			expenses := store.Expenses()
			balance, err := ledger.OwedAndReceivable(expenses)
			if err != nil {
				writeLedgerError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"totalBalance": ledger.TotalBalance(expenses),
				"owed":         balance.Owed,
				"receivable":   balance.Receivable,
				"groups":       store.Groups(),
			})
		})

		r.Get("/analytics", func(w http.ResponseWriter, req *http.Request) {
			expenses := store.Expenses()
			writeJSON(w, http.StatusOK, map[string]any{
				"categoryTotals": ledger.CategoryTotals(expenses),
				"monthlyTotals":  ledger.MonthlyTotals(expenses),
			})
		})

		r.Get("/export", func(w http.ResponseWriter, req *http.Request) {
			doc := ledger.NewExport(store.Snapshot(), time.Now())
			w.Header().Set("Content-Disposition", `attachment; filename="splitpocket-export.json"`)
			writeJSON(w, http.StatusOK, doc)
		})

		r.Post("/data/clear", func(w http.ResponseWriter, req *http.Request) {
			if err := store.ClearAllData(); err != nil {
				slog.Error("failed to clear data", "error", err)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		printErrorAndExit("server error", err)
	}
	slog.Info("server stopped gracefully")
}

func updateProfileName(userRepo user.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.GetUserID(r.Context())
		var body struct {
			DisplayName string `json:"displayName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := userRepo.UpdateDisplayName(r.Context(), userID, body.DisplayName); err != nil {
			if errors.Is(err, user.ErrBlankName) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			slog.Error("failed to update display name", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func updateProfilePhoto(userRepo user.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.GetUserID(r.Context())
		var body struct {
			PhotoURL string `json:"photoURL"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := userRepo.UpdatePhotoURL(r.Context(), userID, body.PhotoURL); err != nil {
			slog.Error("failed to update photo url", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func setSessionCookie(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrGroupNotFound), errors.Is(err, ledger.ErrExpenseNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidSplit),
		errors.Is(err, ledger.ErrUnknownPayer),
		errors.Is(err, ledger.ErrNoRecipients),
		errors.Is(err, ledger.ErrNoMembers),
		errors.Is(err, ledger.ErrDuplicateMember),
		errors.Is(err, ledger.ErrEmptyName),
		errors.Is(err, ledger.ErrEmptyTitle),
		errors.Is(err, ledger.ErrNegativeAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("unexpected ledger error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func printErrorAndExit(msg string, e error) {
	slog.Error(msg, "error", e)
	os.Exit(1)
}
