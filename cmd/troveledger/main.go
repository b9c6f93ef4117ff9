package main

import (
	"TroveLedger/internal/config"
	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/persistence"
	"TroveLedger/internal/projection"
	"TroveLedger/internal/query"
	"TroveLedger/internal/server"
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

func main() {
	logger := observability.NewLogger("main")
	logger.Info().Msg("TroveLedger starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	params, err := config.LoadParams(cfg.ParamsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("load protocol params")
	}

	// ingestCtx stops intake; workers keep draining until their inputs close.
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ingestCtx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger)
	if err := migrator.Up(ingestCtx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	snapMgr := persistence.NewSnapshotManager(db)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	gate := &replayGate{inner: dbChecker}
	gate.replaying.Store(true)

	// --- Channels ---
	// The persist channel blocks the core for backpressure; projections drop.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	// --- Deterministic core ---
	coreLogger := observability.NewLogger("core")
	engine, err := core.NewDeterministicCore(core.Config{
		Params:         params,
		Oracle:         core.NewPriceFeed(cfg.InitialPrice),
		DeployedAt:     cfg.DeployedAt,
		LRUCapacity:    cfg.IdempotencyLRUCapacity,
		PersistChan:    persistCoreChan,
		ProjectionChan: projectionCoreChan,
		DBChecker:      gate,
		Metrics:        metrics,
		Logger:         &coreLogger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create core")
	}

	// --- Recovery: snapshot, then replay the event log tail ---
	lastPersisted, hasEvents, err := snapMgr.GetLatestSequence(ingestCtx)
	if err != nil {
		logger.Fatal().Err(err).Msg("read event log head")
	}
	if !hasEvents {
		lastPersisted = -1
	}

	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridgeCoreOutputs(persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, lastPersisted, metrics)
	}()

	if err := restoreSnapshot(ingestCtx, engine, snapMgr, logger); err != nil {
		logger.Fatal().Err(err).Msg("restore snapshot")
	}
	replayed, err := replayEventLog(ingestCtx, engine, snapMgr, engine.GetSequence())
	if err != nil {
		logger.Fatal().Err(err).Msg("event log replay")
	}
	gate.replaying.Store(false)
	if replayed > 0 {
		logger.Info().Int64("replayed", replayed).Int64("next_sequence", engine.GetSequence()).Msg("event log replayed")
	}

	recent, err := dbChecker.RecentKeys(ingestCtx, cfg.IdempotencyLRUCapacity)
	if err != nil {
		logger.Warn().Err(err).Msg("load recent idempotency keys")
	} else {
		engine.WarmLRU(recent)
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ingestCtx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure command stream")
	}
	if err := ingestion.EnsureOutboundStream(ingestCtx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	healthChecker.AddCheck("postgres", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	})
	healthChecker.AddCheck("migrations", migrator.HealthCheck(2*time.Second))
	healthChecker.AddCheck("nats", func() error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})

	// --- Workers ---
	errChan := make(chan error, 8)
	var persisted atomic.Int64
	persisted.Store(engine.GetSequence() - 1)

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	persistWorker.OnFlushed(func(rows []persistence.EventRow) {
		persisted.Store(rows[len(rows)-1].Sequence)
		for _, row := range rows {
			select {
			case publishChan <- publishableFromRow(row):
			default:
				metrics.PublishDrops.Inc()
			}
		}
	})
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics)
	go func() {
		if err := projWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()

	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics)
	go func() {
		if err := publisher.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("publisher: %w", err)
		}
	}()

	snaps := &snapshotter{core: engine, mgr: snapMgr, metrics: metrics, persisted: &persisted, logger: observability.NewLogger("snapshot")}

	// --- Ingestion: NATS and the admin API feed one engine loop ---
	rawChan := make(chan ingestion.RawEvent, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan)
	if err := subscriber.Subscribe(ingestCtx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	submitChan := make(chan ingestion.Submission)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		runEngineLoop(ingestCtx, engine, rawChan, submitChan, observability.NewLogger("ingestion"))
	}()

	// --- API ---
	apiServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Engine:        engine,
		QueryService:  query.NewQueryService(db),
		IngestService: ingestion.NewCommandIngestService(submitChan),
		SnapshotMgr:   snapMgr,
		DB:            db,
		TakeSnapshot:  snaps.Take,
		AdminToken:    cfg.AdminToken,
	}, healthChecker, metrics)

	go func() {
		if err := apiServer.StartGRPC(ingestCtx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := apiServer.StartHTTPGateway(ingestCtx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()
	go runPeriodicSnapshots(ingestCtx, snaps, cfg.SnapshotInterval)
	go serveMetrics(ingestCtx, cfg.MetricsAddr, errChan, logger)

	healthChecker.SetReady(true)
	apiServer.SetServing(true)
	logger.Info().
		Int64("next_sequence", engine.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("TroveLedger ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, let the engine finish its command, then drain outputs
	// through persistence before the final snapshot.
	healthChecker.SetReady(false)
	apiServer.SetServing(false)
	subscriber.Stop()
	stopIngest()
	<-engineDone

	close(persistCoreChan)
	close(projectionCoreChan)
	<-bridgeDone
	<-persistDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if seq, err := snaps.Take(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	close(publishChan)
	stopWorkers()
	logger.Info().Msg("TroveLedger shutdown complete")
}

// replayGate turns off the Postgres dedup tier while the event log itself is
// being replayed.
type replayGate struct {
	inner     core.DBIdempotencyChecker
	replaying atomic.Bool
}

func (g *replayGate) IsDuplicate(eventType, key string) (bool, error) {
	if g.replaying.Load() {
		return false, nil
	}
	return g.inner.IsDuplicate(eventType, key)
}

// bridgeCoreOutputs converts core outputs into persistence and projection
// inputs. Outputs at or below skipThrough come from replay and are already
// in the event log. Returns once both inputs are closed, closing its outputs.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	skipThrough int64,
	metrics *observability.Metrics,
) {
	defer close(persistOut)
	defer close(projectionOut)

	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			if output.Envelope.Sequence <= skipThrough {
				continue
			}
			persistOut <- persistence.CoreOutput{
				EventRow:    persistence.NewEventRow(output.Envelope),
				JournalRows: persistence.NewJournalRows(output.Batch),
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			if output.Envelope.Sequence <= skipThrough {
				continue
			}
			select {
			case projectionOut <- projection.NewProjectionOutput(output.Envelope, output.Batch, output.Events):
			default:
				metrics.PublishDrops.Inc()
			}
		}
	}
}

func publishableFromRow(row persistence.EventRow) ingestion.PublishableEvent {
	events := json.RawMessage(row.Events)
	if len(events) == 0 {
		events = json.RawMessage("[]")
	}
	return ingestion.PublishableEvent{
		Sequence:       row.Sequence,
		CommandType:    row.EventType,
		IdempotencyKey: row.IdempotencyKey,
		Events:         events,
		StateHash:      hex.EncodeToString(row.StateHash),
		Timestamp:      row.Timestamp,
	}
}

// runEngineLoop is the only goroutine that calls ProcessCommand outside of
// replay, so NATS and API commands are applied in arrival order. NATS
// messages are acked once the engine has applied or rejected them; malformed
// messages are acked and dropped so they are not redelivered.
func runEngineLoop(ctx context.Context, engine *core.DeterministicCore, rawChan <-chan ingestion.RawEvent, submissions <-chan ingestion.Submission, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-rawChan:
			commandType, err := ingestion.CommandTypeFromSubject(raw.Subject)
			if err != nil {
				logger.Warn().Err(err).Msg("unroutable message")
				raw.AckFunc()
				continue
			}
			cmd, err := ingestion.ParseRawEvent(raw, commandType)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse command failed")
				raw.AckFunc()
				continue
			}
			if _, err := engine.ProcessCommand(cmd); err != nil {
				logger.Info().Err(err).Str("command", commandType).Str("key", cmd.IdempotencyKey()).Msg("command rejected")
			}
			raw.AckFunc()
		case sub := <-submissions:
			_, err := engine.ProcessCommand(sub.Command)
			sub.Reply <- err
		}
	}
}

// restoreSnapshot loads the latest verified snapshot into engine. A cold
// start leaves the engine untouched.
func restoreSnapshot(ctx context.Context, engine *core.DeterministicCore, snapMgr *persistence.SnapshotManager, logger zerolog.Logger) error {
	rec, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if rec == nil {
		logger.Info().Msg("no snapshot found, cold start")
		return nil
	}

	var snap core.SnapshotState
	if err := rec.Decode(&snap); err != nil {
		return err
	}
	if !bytes.Equal(rec.StateHash, snap.StateHash[:]) {
		return fmt.Errorf("snapshot %d: stored hash %x does not match state %x", rec.Sequence, rec.StateHash, snap.StateHash)
	}
	if err := engine.RestoreFromSnapshot(&snap); err != nil {
		return err
	}
	logger.Info().Int64("sequence", rec.Sequence).Msg("snapshot restored")
	return nil
}

// replayEventLog re-applies persisted commands from fromSequence. Each
// replayed command must land on its recorded sequence and state hash.
func replayEventLog(ctx context.Context, engine *core.DeterministicCore, snapMgr *persistence.SnapshotManager, fromSequence int64) (int64, error) {
	var replayed int64
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			return replayed, nil
		}

		for _, row := range rows {
			cmd, err := event.DecodeCommand(row.EventType, row.Payload)
			if err != nil {
				return replayed, fmt.Errorf("decode sequence %d: %w", row.Sequence, err)
			}
			out, err := engine.ProcessCommand(cmd)
			if err != nil {
				return replayed, fmt.Errorf("replay sequence %d: %w", row.Sequence, err)
			}
			if out.Envelope.Sequence != row.Sequence {
				return replayed, fmt.Errorf("replay sequence %d landed on %d", row.Sequence, out.Envelope.Sequence)
			}
			if !bytes.Equal(out.Envelope.StateHash[:], row.StateHash) {
				return replayed, fmt.Errorf("state hash mismatch at sequence %d: log %x, replay %x", row.Sequence, row.StateHash, out.Envelope.StateHash)
			}
			replayed++
		}
		fromSequence = rows[len(rows)-1].Sequence + 1
	}
}

// snapshotter persists engine snapshots. A snapshot is only taken once the
// event log has caught up with the engine, so recovery never skips commands.
type snapshotter struct {
	mu        sync.Mutex
	core      *core.DeterministicCore
	mgr       *persistence.SnapshotManager
	metrics   *observability.Metrics
	persisted *atomic.Int64
	logger    zerolog.Logger
}

func (s *snapshotter) Take(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	snap := s.core.CreateSnapshotState()
	if snap.Sequence < 0 {
		return 0, errors.New("no commands applied yet")
	}
	if p := s.persisted.Load(); p < snap.Sequence {
		return 0, fmt.Errorf("event log at %d is behind engine at %d", p, snap.Sequence)
	}

	rec, err := persistence.NewSnapshotRecord(snap.Sequence, snap.StateHash, snap, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if err := s.mgr.SaveSnapshot(ctx, rec); err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	// Built from live state, so it is verified as soon as it is stored.
	if err := s.mgr.MarkVerified(ctx, rec.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot verified: %w", err)
	}

	s.metrics.SnapshotTaken.Inc()
	s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	s.logger.Info().Int64("sequence", rec.Sequence).Dur("took", time.Since(start)).Msg("snapshot saved")
	return rec.Sequence, nil
}

// runPeriodicSnapshots snapshots every interval applied commands.
func runPeriodicSnapshots(ctx context.Context, snaps *snapshotter, interval int64) {
	if interval <= 0 {
		interval = 100_000
	}
	last := snaps.core.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if snaps.core.GetSequence()-last < interval {
				continue
			}
			seq, err := snaps.Take(ctx)
			if err != nil {
				snaps.logger.Warn().Err(err).Msg("periodic snapshot skipped")
				continue
			}
			last = seq + 1
		}
	}
}

func serveMetrics(ctx context.Context, addr string, errChan chan<- error, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("metrics server: %w", err)
	}
}
