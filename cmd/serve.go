package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/model"
	"github.com/fernwood/orderdesk/internal/pipeline"
	"github.com/fernwood/orderdesk/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for incoming emails",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Runner.Sync(ctx); err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildMux(ctx, env.Store, env.Runner),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func buildMux(ctx context.Context, st store.Store, runner *pipeline.Runner) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			http.Error(w, `{"error":"store unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		stats, err := st.GetStats(r.Context())
		if err != nil {
			http.Error(w, `{"error":"stats unavailable"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	mux.HandleFunc("POST /webhook/email", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EmailID string `json:"email_id"`
			Subject string `json:"subject"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.EmailID == "" || req.Message == "" {
			http.Error(w, `{"error":"email_id and message are required"}`, http.StatusBadRequest)
			return
		}

		email := model.Email{ID: req.EmailID, Subject: req.Subject, Body: req.Message}
		if st != nil {
			if _, err := st.ImportEmails(r.Context(), []model.Email{email}); err != nil {
				zap.L().Error("webhook email import failed",
					zap.String("email_id", email.ID),
					zap.Error(err))
				http.Error(w, `{"error":"import failed"}`, http.StatusInternalServerError)
				return
			}
		}

		// Process asynchronously; the response log keeps replays safe.
		go func() {
			if runner == nil {
				return
			}
			if _, err := runner.ProcessEmail(ctx, email); err != nil {
				zap.L().Error("webhook email processing failed",
					zap.String("email_id", email.ID),
					zap.Error(err))
				return
			}
			zap.L().Info("webhook email processed", zap.String("email_id", email.ID))
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status":   "accepted",
			"email_id": req.EmailID,
		})
	})

	return mux
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override server port")
	rootCmd.AddCommand(serveCmd)
}
