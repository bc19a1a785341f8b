package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"irrigation/internal/adapter"
	"irrigation/internal/collab"
	"irrigation/internal/demand"
	"irrigation/internal/gates"
	"irrigation/internal/hydraulics"
	"irrigation/internal/instructions"
	"irrigation/internal/network"
	"irrigation/internal/repository"
	"irrigation/internal/schedule"
	"irrigation/internal/scheduler"
	"irrigation/internal/state"
	"irrigation/internal/weather"
	"irrigation/migrations"
	"irrigation/pkg/cache"
	"irrigation/pkg/config"
	"irrigation/pkg/database"
	"irrigation/pkg/logger"
)

// App is the explicitly wired service graph. Everything the control plane
// needs is built here, once, and handed down; no package-level singletons
// beyond the process logger and metrics.
type App struct {
	cfg *config.Config

	db    *database.PostgresDB
	redis *redis.Client
	store *state.Store
	cache cache.Cache

	net        *network.Network
	pool       *hydraulics.Pool
	planner    *scheduler.Planner
	book       *schedule.Book
	controller *gates.Controller
	adapter    *adapter.Adapter
	aggregator *demand.Aggregator

	schedules   repository.ScheduleRepository
	operations  repository.OperationRepository
	teams       repository.TeamRepository
	weather     repository.WeatherRepository
	adaptations repository.AdaptationRepository

	agronomy *collab.AgronomyClient
	gis      *collab.GISClient
	forecast *collab.WeatherClient
	bridge   *collab.BridgeReachability
	feed     *collab.MeasurementFeed
	auth     *collab.AuthVerifier

	ingestor *weather.Ingestor

	builder *instructions.Builder
	pdf     *instructions.PDFGenerator
	excel   *instructions.ExcelGenerator
}

// newApp строит граф сервисов
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(ctx, db.Pool(), &cfg.Database, migrations.FS, migrations.Dir); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Address(),
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Log.Warn("Redis unreachable at startup, runtime state degraded", "error", err)
	}

	memo, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	net, err := network.Load(cfg.Topology.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load network topology: %w", err)
	}

	pool := hydraulics.NewPool(cfg.Hydraulics.PoolSize)
	planner := scheduler.New(net, pool, schedulerOptions(cfg))

	bridge, err := collab.NewBridgeReachability(ctx, cfg.Collaborators.Scada)
	if err != nil {
		return nil, fmt.Errorf("failed to reach scada bridge: %w", err)
	}

	controller := gates.NewController(net, bridge, nil)
	book := schedule.NewBook()

	app := &App{
		cfg:   cfg,
		db:    db,
		redis: rdb,
		store: state.NewStore(rdb),
		cache: memo,

		net:        net,
		pool:       pool,
		planner:    planner,
		book:       book,
		controller: controller,
		aggregator: demand.NewAggregator(memo),

		schedules:   repository.NewPostgresScheduleRepository(db),
		operations:  repository.NewPostgresOperationRepository(db),
		teams:       repository.NewPostgresTeamRepository(db),
		weather:     repository.NewPostgresWeatherRepository(db),
		adaptations: repository.NewPostgresAdaptationRepository(db),

		agronomy: collab.NewAgronomyClient(cfg.Collaborators.Agronomy),
		gis:      collab.NewGISClient(cfg.Collaborators.GIS),
		forecast: collab.NewWeatherClient(cfg.Collaborators.Weather),
		bridge:   bridge,
		auth:     collab.NewAuthVerifier(nil, cfg.Auth),

		builder: instructions.NewBuilder(net, controller),
		pdf: instructions.NewPDFGeneratorWithOptions(instructions.PDFOptions{
			PageSize:          cfg.Instructions.PDF.PageSize,
			Orientation:       cfg.Instructions.PDF.Orientation,
			MarginTop:         cfg.Instructions.PDF.MarginTop,
			MarginBottom:      cfg.Instructions.PDF.MarginBottom,
			MarginLeft:        cfg.Instructions.PDF.MarginLeft,
			MarginRight:       cfg.Instructions.PDF.MarginRight,
			EnablePageNumbers: cfg.Instructions.PDF.EnablePageNumbers,
		}),
		excel: instructions.NewExcelGenerator(),
	}

	app.feed = collab.NewMeasurementFeed(cfg.Collaborators.Scada, controller, app.store)
	app.ingestor = weather.NewIngestor(app.forecast, app.weather)

	adp := adapter.New(net, book, planner, controller, nil)
	adp.Tune(adapter.Thresholds{
		DelayMaxRepairHours: cfg.Adapter.DelayMaxRepairHours,
		DelayMaxShortageM3:  cfg.Adapter.DelayMaxShortageM3,
		OverrideShortageM3:  cfg.Adapter.EmergencyShortageM3,
		RerouteMaxLossRatio: cfg.Adapter.RerouteMaxLossPct / 100,
		ReduceDemandRainMM:  cfg.Adapter.WeatherRainfallMM,
		AdjustTimingTempC:   cfg.Adapter.WeatherTempChangeC,
		HistoryDepth:        cfg.Adapter.HistoryLimit,
	})
	adp.OnCommit(app.persistAdaptation)
	if cfg.Adapter.NotifyAffectedTeams {
		adp.OnNotify(func(teamID string, rec *adapter.Record) {
			logger.Log.Info("Team notified of adaptation",
				"team_id", teamID, "schedule_id", rec.ScheduleID, "strategy", string(rec.Strategy))
		})
	}
	app.adapter = adp

	return app, nil
}

// Close releases the app's external connections.
func (a *App) Close() {
	if err := a.bridge.Close(); err != nil {
		logger.Log.Warn("Failed to close scada bridge", "error", err)
	}
	if err := a.redis.Close(); err != nil {
		logger.Log.Warn("Failed to close redis client", "error", err)
	}
	a.db.Close()
}

// persistAdaptation writes a committed adaptation through: the patched plan
// to Postgres, the record to the relational journal and the Redis trail.
// The schedule is still under the book lock, so the version the CAS minted
// cannot move underneath the patch.
func (a *App) persistAdaptation(ctx context.Context, sched *schedule.WeeklySchedule, rec *adapter.Record) {
	if err := a.schedules.Patch(ctx, sched, rec.VersionBefore); err != nil {
		logger.Log.Error("Failed to persist adapted schedule",
			"schedule_id", sched.ID, "error", err)
	}
	if err := a.adaptations.Insert(ctx, rec); err != nil {
		logger.Log.Error("Failed to persist adaptation record",
			"schedule_id", sched.ID, "error", err)
	}
	if err := a.store.PushAdaptation(ctx, rec); err != nil {
		logger.Log.Warn("Failed to push adaptation to runtime state",
			"schedule_id", sched.ID, "error", err)
	}
}

// PlanWeek builds next week's draft schedule from collaborator inputs and
// stores it.
func (a *App) PlanWeek(ctx context.Context, year, week int) (*schedule.WeeklySchedule, error) {
	plots, err := a.agronomy.WeeklyDemands(ctx, year, week)
	if err != nil {
		return nil, fmt.Errorf("failed to collect demand requests: %w", err)
	}

	factors := &demand.Factors{WeatherAdjustment: 1.0}
	if forecasts, err := a.forecast.WeeklyForecast(ctx, year, week); err != nil {
		logger.Log.Warn("Weekly forecast unavailable, planning without it", "error", err)
	} else {
		for _, f := range forecasts {
			factors.RainfallMM += f.RainfallMM / float64(len(forecasts))
			if f.AdjustmentFactor > 0 {
				factors.WeatherAdjustment = f.AdjustmentFactor
			}
		}
	}

	summaries, err := a.weather.SummariesForWeek(ctx, year, week)
	if err != nil {
		logger.Log.Warn("No weather summaries for week", "year", year, "week", week, "error", err)
	}
	if len(summaries) > 0 {
		factors.ZoneModifiers = make(map[string]float64, len(summaries))
		for _, s := range summaries {
			factors.ZoneModifiers[s.ZoneID] = s.DemandModifier
		}
	}

	demands, err := a.aggregator.Aggregate(ctx, year, week, plots, factors)
	if err != nil {
		return nil, err
	}

	teams, err := a.teams.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list field teams: %w", err)
	}

	sched, sol, err := a.planner.BuildWeekly(ctx, year, week, demands, teams, summaries)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("Weekly plan built",
		"schedule_id", sched.ID, "year", year, "week", week,
		"status", string(sol.Status), "operations", len(sched.Operations))

	if err := a.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}
	if err := a.book.Add(sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// ActivateSchedule approves and activates a schedule and repoints the
// week's active pointer.
func (a *App) ActivateSchedule(ctx context.Context, id string) error {
	sched, err := a.book.Get(id)
	if err != nil {
		return err
	}
	if sched.Status == schedule.StatusDraft {
		if err := sched.Transition(schedule.StatusApproved); err != nil {
			return err
		}
		if _, err := a.schedules.UpdateStatus(ctx, id, schedule.StatusApproved, sched.Version); err != nil {
			return err
		}
		sched.Version++
	}

	if err := a.book.Activate(id); err != nil {
		return err
	}
	if _, err := a.schedules.UpdateStatus(ctx, id, schedule.StatusActive, sched.Version); err != nil {
		return err
	}
	sched.Version++

	if err := a.store.SetActiveSchedule(ctx, sched.Year, sched.Week, id); err != nil {
		logger.Log.Warn("Failed to set active schedule pointer", "schedule_id", id, "error", err)
	}
	return nil
}

// runLoops starts the background workers: the SCADA telemetry feed, the
// schedule event log, the daily weather ingestion, and the periodic manual
// gate sync check.
func (a *App) runLoops(ctx context.Context) {
	go a.feed.Run(ctx)

	go func() {
		if err := a.ingestor.IngestDay(ctx, time.Now()); err != nil {
			logger.Log.Warn("Weather ingestion failed", "error", err)
		}
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Persist the partial week before the process exits.
				a.ingestor.Flush(context.Background())
				return
			case now := <-ticker.C:
				if err := a.ingestor.IngestDay(ctx, now); err != nil {
					logger.Log.Warn("Weather ingestion failed", "error", err)
				}
			}
		}
	}()

	go func() {
		for ev := range a.store.SubscribeScheduleEvents(ctx) {
			logger.Log.Info("Schedule event",
				"schedule_id", ev.ScheduleID, "event", ev.Event, "version", ev.Version)
		}
	}()

	interval := a.cfg.Gates.ManualUpdateInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.syncCheck(ctx)
			}
		}
	}()
}

// syncCheck nudges every automated gate's staleness check.
func (a *App) syncCheck(ctx context.Context) {
	for _, gid := range a.net.GateIDs() {
		mode, err := a.controller.Mode(gid)
		if err != nil || mode != gates.ModeAutomated {
			continue
		}
		if _, err := a.controller.GetState(gid); err != nil {
			logger.Log.Warn("Gate state unavailable during sync check", "gate_id", gid, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// schedulerOptions maps the config section onto planner options.
func schedulerOptions(cfg *config.Config) *scheduler.Options {
	opts := scheduler.DefaultOptions()
	sc := cfg.Scheduler

	if days := parseWeekdays(sc.OperationDays); len(days) > 0 {
		opts.OperationDays = days
	}
	if sc.WorkdayStartHour > 0 {
		opts.WorkStart = time.Duration(sc.WorkdayStartHour) * time.Hour
	}
	if sc.WorkdayEndHour > 0 {
		opts.WorkEnd = time.Duration(sc.WorkdayEndHour) * time.Hour
	}
	if sc.SlotMinutes > 0 {
		opts.SlotLength = time.Duration(sc.SlotMinutes) * time.Minute
	}
	if sc.RelativeGap > 0 {
		opts.GapTarget = sc.RelativeGap
	}
	if sc.FlowToleranceM3s > 0 {
		opts.FeasibilityTolM3s = sc.FlowToleranceM3s
	}
	if sc.FeasibilityTries > 0 {
		opts.MaxPerturbations = sc.FeasibilityTries
	}
	if sc.TravelWeight > 0 {
		opts.Weights.Travel = sc.TravelWeight
	}
	if sc.ChangesWeight > 0 {
		opts.Weights.Changes = sc.ChangesWeight
	}
	if sc.SpillWeight > 0 {
		opts.Weights.Spill = sc.SpillWeight
	}
	return opts
}

func parseWeekdays(names []string) []time.Weekday {
	lookup := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
		"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
		"sat": time.Saturday,
	}
	var days []time.Weekday
	for _, name := range names {
		key := strings.ToLower(name)
		if len(key) > 3 {
			key = key[:3]
		}
		if d, ok := lookup[key]; ok {
			days = append(days, d)
		}
	}
	return days
}
