package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/auth"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/config"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/db"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/feed"
	handler "github.com/vasiliy-maslov/ecommerce-storefront/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/notifier"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/review"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/user"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/webhook"
)

func newServeCmd(load configLoader) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !skipMigrations {
				if err := db.MigrateUp(cfg.Postgres); err != nil {
					return err
				}
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on startup")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", version).Str("env", cfg.App.Env).Msg("Storefront starting...")

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	var identity auth.IdentityProvider
	if cfg.Auth.OIDC.Enabled() {
		identity, err = auth.NewOIDCProvider(ctx, cfg.Auth.OIDC)
		if err != nil {
			return fmt.Errorf("failed to set up identity provider: %w", err)
		}
		log.Info().Str("issuer", cfg.Auth.OIDC.Issuer).Msg("OIDC login enabled")
	}

	var sender notifier.Sender = notifier.LogSender{}
	if cfg.Email.Enabled() {
		ses, err := notifier.NewSESSender(ctx, cfg.Email)
		if err != nil {
			return fmt.Errorf("failed to set up email sender: %w", err)
		}
		sender = ses
		log.Info().Str("region", cfg.Email.Region).Msg("Order emails go through SES")
	}
	mailer := notifier.NewOrderNotifier(sender)

	hub := feed.NewHub()
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	users := user.NewService(user.NewRepository(pg.Pool))
	products := catalog.NewService(catalog.NewRepository(pg.SQL))
	carts := cart.NewService(cart.NewRepository(pg.Pool), products)

	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
	})
	paymentRepo := payment.NewRepository(pg.Pool)

	orders := order.NewService(order.NewRepository(pg.Pool), carts, order.Pricing{
		FlatRate:      cfg.Shipping.FlatRate,
		FreeThreshold: cfg.Shipping.FreeThreshold,
		Currency:      cfg.Stripe.Currency,
	}, mailer, hub, payment.NewSessionCloser(paymentRepo, gateway))
	payments := payment.NewService(paymentRepo, gateway, orders)

	processor := webhook.NewProcessor(
		webhook.NewEventSet(cfg.Webhook.DedupCapacity),
		webhook.NewRepository(pg.Pool),
		paymentRepo,
		orders,
		carts,
		gateway,
	)

	reviews := review.NewService(review.NewRepository(pg.Pool), orders, products)

	router := handler.NewRouter(tokens, handler.Handlers{
		Auth:    handler.NewAuthHandler(users, tokens, identity, cfg.IsProduction()),
		Account: handler.NewAccountHandler(users),
		Catalog: handler.NewCatalogHandler(products),
		Cart:    handler.NewCartHandler(carts),
		Orders:  handler.NewOrderHandler(orders, payments, users),
		Reviews: handler.NewReviewHandler(reviews),
		Admin:   handler.NewAdminHandler(orders, payments, hub),
		Webhook: handler.NewWebhookHandler(gateway, processor),
	}, func(ctx context.Context) error {
		return pg.Pool.Ping(ctx)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
	case err := <-serverErr:
		stop()
		<-hubDone
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	<-hubDone
	mailer.Wait()

	log.Info().Msg("Storefront stopped gracefully")
	return nil
}
