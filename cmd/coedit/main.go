// Command coedit joins a collaborative document session and tails roster and
// payload traffic. It is the smoke tool for the collab transport: point it
// at a coeditd (or the real collaboration API), watch status transitions,
// and optionally publish a cursor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"coedit/internal/app"
	"coedit/internal/collab"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "coedit:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		baseURL     = pflag.String("url", "http://127.0.0.1:8080", "collaboration API base URL")
		documentID  = pflag.String("doc", "", "document id to join (required)")
		userID      = pflag.String("user-id", "", "user id (default: random)")
		userName    = pflag.String("name", "", "display name (default: derived from user id)")
		userEmail   = pflag.String("email", "", "email (optional)")
		heartbeat   = pflag.Duration("heartbeat", 0, "heartbeat interval (default 30s)")
		maxAttempts = pflag.Int("max-attempts", 0, "reconnect attempts before giving up (default 5)")
		jitter      = pflag.Bool("jitter", false, "randomize reconnect delays")
		logLevel    = pflag.String("log-level", "info", "log level: debug|info|warn|error")
	)
	pflag.Parse()

	if strings.TrimSpace(*documentID) == "" {
		return fmt.Errorf("--doc is required")
	}
	if *userID == "" {
		*userID = uuid.NewString()
	}
	if *userName == "" {
		*userName = "coedit-" + (*userID)[:8]
	}

	log := app.NewLogger(*logLevel)

	cfg := collab.Config{
		BaseURL:           *baseURL,
		HeartbeatInterval: *heartbeat,
		MaxAttempts:       *maxAttempts,
		Jitter:            *jitter,
		Logger:            log,
		Metrics:           collab.NewMetrics(prometheus.DefaultRegisterer),
	}

	session, err := collab.NewSession(cfg, collab.SessionParams{
		DocumentID: *documentID,
		UserID:     *userID,
		UserName:   *userName,
		UserEmail:  *userEmail,
		Enabled:    true,
	}, collab.Handlers{
		OnSync: func(data json.RawMessage) {
			log.Info("doc.sync", "bytes", len(data))
		},
		OnUpdate: func(data json.RawMessage) {
			log.Info("doc.update", "bytes", len(data))
		},
		OnStateChange: func(s collab.ConnectionState) {
			names := make([]string, 0, len(s.Collaborators))
			for _, p := range s.Collaborators {
				names = append(names, p.Name)
			}
			log.Info("session.state",
				"status", string(s.Status),
				"collaborators", strings.Join(names, ","),
				"err", s.Err,
			)
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("session.joined", "doc", *documentID, "user", *userName)
	<-ctx.Done()
	return nil
}
