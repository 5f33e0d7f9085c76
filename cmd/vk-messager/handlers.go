// handlers.go contains the command implementations.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/limmweb/vk-messager/internal/accounting"
	"github.com/limmweb/vk-messager/internal/audit"
	"github.com/limmweb/vk-messager/internal/backoff"
	"github.com/limmweb/vk-messager/internal/bridge"
	"github.com/limmweb/vk-messager/internal/config"
	"github.com/limmweb/vk-messager/internal/dispatch"
	"github.com/limmweb/vk-messager/internal/dossier"
	"github.com/limmweb/vk-messager/internal/llm"
	"github.com/limmweb/vk-messager/internal/presence"
	"github.com/limmweb/vk-messager/internal/prompt"
	"github.com/limmweb/vk-messager/internal/session"
	"github.com/limmweb/vk-messager/internal/vk"
)

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildLogger(cfg *config.Config, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// runBridge wires the full pipeline for one stored session and drives the
// event loop until a shutdown signal arrives.
func runBridge(ctx context.Context, configPath, sessionName string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg, debug)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := backoff.Policy{Base: cfg.Backoff.Base, Cap: cfg.Backoff.Cap}

	sessions, err := session.NewStore(cfg.Paths.SessionsDir)
	if err != nil {
		return err
	}
	record, err := sessions.Load(sessionName)
	if err != nil {
		return err
	}

	client, err := vk.NewClient(vk.Config{
		Token:        record.VKToken,
		GroupID:      record.GroupID,
		LongPollWait: cfg.LongPoll.Wait,
		Backoff:      policy,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	identity, err := client.Identity(ctx)
	if err != nil {
		return fmt.Errorf("resolve account identity: %w", err)
	}
	logger.Info("acting as",
		slog.Int64("id", identity.ID),
		slog.String("name", identity.Name),
		slog.String("entity", identity.EntityType()))

	dossiers, err := dossier.NewStore(cfg.Paths.DossiersDir)
	if err != nil {
		return err
	}
	auditLog, err := audit.NewLogger(cfg.Paths.ReportFile)
	if err != nil {
		return err
	}
	sink := accounting.NewSink(sessions, sessionName, dossiers, auditLog, logger)

	gateway, err := llm.NewGateway(llm.Config{
		APIKey:          record.OpenAIToken,
		Model:           cfg.Model.Name,
		MaxOutputTokens: cfg.Model.MaxOutputTokens,
		Backoff:         policy,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Transport: client,
		Backoff:   policy,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	assembler := prompt.NewAssembler(prompt.Persona{
		Personality:    record.Personality,
		CommercialInfo: record.CommercialInfo,
		Rules:          record.ConversationRules,
		Goal:           record.ConversationGoal,
	}, identity.ID)

	keeper := presence.NewKeeper(client, cfg.Presence.Interval, logger)
	keeper.Start(ctx)
	defer keeper.Stop()

	if cfg.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Metrics.Addr, logger)
	}

	b, err := bridge.New(bridge.Config{
		Transport:  client,
		Self:       identity,
		Assembler:  assembler,
		Completer:  gateway,
		Dispatcher: dispatcher,
		Dossiers:   dossiers,
		Accounting: sink,
		Backoff:    policy,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("bridge starting", slog.String("session", sessionName))
	err = b.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("bridge stopped")
		return nil
	}
	return err
}

func startMetricsServer(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("metrics endpoint listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics endpoint failed", slog.Any("error", err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func runSessionsList(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	sessions, err := session.NewStore(cfg.Paths.SessionsDir)
	if err != nil {
		return err
	}
	names, err := sessions.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		cmd.Println("no stored sessions")
		return nil
	}
	for _, name := range names {
		cmd.Println(name)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, configPath, name string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	sessions, err := session.NewStore(cfg.Paths.SessionsDir)
	if err != nil {
		return err
	}
	record, err := sessions.Load(name)
	if err != nil {
		return err
	}

	cmd.Printf("session:            %s\n", name)
	cmd.Printf("vk_token:           %s\n", redact(record.VKToken))
	cmd.Printf("openai_token:       %s\n", redact(record.OpenAIToken))
	if record.GroupID != 0 {
		cmd.Printf("group_id:           %d\n", record.GroupID)
		cmd.Printf("group_name:         %s\n", record.GroupName)
	}
	cmd.Printf("personality:        %s\n", record.Personality)
	cmd.Printf("commercial_info:    %s\n", record.CommercialInfo)
	cmd.Printf("conversation_rules: %s\n", record.ConversationRules)
	cmd.Printf("conversation_goal:  %s\n", record.ConversationGoal)
	cmd.Printf("tokens_in:          %d\n", record.TokensIn)
	cmd.Printf("tokens_out:         %d\n", record.TokensOut)
	cmd.Printf("tokens_total:       %d\n", record.TokensTotal)
	cmd.Printf("tokens_cost:        %.6f\n", record.TokensCost)
	return nil
}

// redact keeps enough of a credential to recognize it, no more.
func redact(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func runReport(cmd *cobra.Command, configPath string, tail int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	file, err := os.Open(cfg.Paths.ReportFile)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	if len(rows) == 0 {
		cmd.Println("report is empty")
		return nil
	}

	header, data := rows[0], rows[1:]
	if tail > 0 && len(data) > tail {
		data = data[len(data)-tail:]
	}

	writer := csv.NewWriter(cmd.OutOrStdout())
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(data); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}
