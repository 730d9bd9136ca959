package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BearBump/SealTrip/internal/api/sealapi"
	"github.com/BearBump/SealTrip/internal/broker/messages"
	"github.com/BearBump/SealTrip/internal/models"
	"github.com/BearBump/SealTrip/internal/services/verification"
)

type sealAPIOpts struct {
	httpAddr string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runSealAPI(ctx context.Context, opts sealAPIOpts, api *sealapi.API, verify *verification.Service, consumer kafkaConsumer) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}

	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, api)
	}()

	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		_ = consumer.Consume(ctx, func(_key, value []byte) error {
			return applyScanMessage(ctx, verify, value)
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, api *sealapi.API) error {
	r := chi.NewRouter()
	api.Routes(r)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}

// applyScanMessage feeds a scanner-device message into the verification
// engine. Delivery is at-least-once, so duplicates and stale scans are
// logged and committed rather than redelivered forever; only storage
// failures are returned to hold the offset.
func applyScanMessage(ctx context.Context, verify *verification.Service, value []byte) error {
	var m messages.SealScanned
	if err := json.Unmarshal(value, &m); err != nil {
		slog.Error("malformed seal.scanned message, skipping", "err", err)
		return nil
	}

	_, err := verify.RecordScan(ctx, m.TripID, m.TagID)
	switch {
	case err == nil, errors.Is(err, models.ErrAlreadyScanned):
		return nil
	case errors.Is(err, models.ErrUnknownTag),
		errors.Is(err, models.ErrTripNotInProgress),
		errors.Is(err, models.ErrInvalidTransition):
		slog.Warn("seal.scanned rejected, skipping", "trip_id", m.TripID, "tag_id", m.TagID, "err", err)
		return nil
	default:
		return err
	}
}
