package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dosetrack/internal/analytics"
	"dosetrack/internal/config"
	"dosetrack/internal/medication"
	"dosetrack/internal/metrics"
	"dosetrack/internal/reminder"
	"dosetrack/internal/risk"
	"dosetrack/internal/sweep"
)

var version = "dev"

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	patientID  = flag.String("patient", "default", "Patient to operate on")
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "help", "--help", "-h":
			printHelp()
			return
		case "version", "--version", "-v":
			fmt.Printf("dosetrack version %s\n", version)
			return
		}
	}

	flag.Parse()

	cmd := "today"
	if args := flag.Args(); len(args) > 0 {
		cmd = args[0]
	}

	app, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := app.run(cmd, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *medication.Store
	ledger  *medication.Ledger
	anchor  time.Duration
	metrics *metrics.Metrics
}

func newApp() (*app, error) {
	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		return nil, err
	}

	zlog, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(cfg.Storage.SQLitePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store, err := medication.NewStore(db)
	if err != nil {
		return nil, err
	}

	anchor, err := config.ParseAnchor(cfg.Schedule.DayAnchor)
	if err != nil {
		return nil, err
	}

	m := metrics.Default()
	return &app{
		cfg:     cfg,
		logger:  zlog,
		store:   store,
		ledger:  medication.NewLedger(store, zlog, m, anchor),
		anchor:  anchor,
		metrics: m,
	}, nil
}

func (a *app) run(cmd string, args []string) error {
	switch cmd {
	case "add":
		return a.addPlan(args[1:])
	case "list":
		return a.listPlans()
	case "take", "skip", "miss":
		return a.recordAction(cmd, args[1:])
	case "today":
		return a.today()
	case "report":
		return a.report()
	case "risk":
		return a.riskReport()
	case "remind":
		return a.remind()
	case "sweep":
		return a.sweep(args[1:])
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (a *app) addPlan(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	name := fs.String("name", "", "Medication name")
	dosage := fs.String("dosage", "", "Dosage text, e.g. '10mg'")
	perDay := fs.Int("per-day", 1, "Doses per day")
	food := fs.String("food", "anytime", "Food timing: before, after, with, anytime")
	endDate := fs.String("end", "", "Last dosing day (YYYY-MM-DD), empty = indefinite")
	fs.Parse(args)

	plan := &medication.Plan{
		PatientID:   *patientID,
		Name:        *name,
		DosageText:  *dosage,
		DosesPerDay: *perDay,
		FoodTiming:  medication.FoodTiming(*food),
		StartDate:   time.Now(),
	}
	if *endDate != "" {
		end, err := time.ParseInLocation("2006-01-02", *endDate, time.Local)
		if err != nil {
			return fmt.Errorf("invalid end date: %w", err)
		}
		plan.EndDate = &end
	}

	if err := a.store.CreatePlan(plan); err != nil {
		return err
	}

	fmt.Printf("Added %s (%s, %d/day) id=%s\n", plan.Name, plan.DosageText, plan.DosesPerDay, plan.ID)
	return nil
}

func (a *app) listPlans() error {
	plans, err := a.store.ListPlans(*patientID, false)
	if err != nil {
		return err
	}

	if len(plans) == 0 {
		fmt.Println("No medications.")
		return nil
	}

	for _, p := range plans {
		state := "active"
		if !p.Active {
			state = "inactive"
		}
		fmt.Printf("%-36s  %-20s %-8s %d/day  %s\n", p.ID, p.Name, p.DosageText, p.DosesPerDay, state)
	}
	return nil
}

func (a *app) recordAction(cmd string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: dosetrack %s <record-id>", cmd)
	}

	status := map[string]medication.Status{
		"take": medication.StatusTaken,
		"skip": medication.StatusSkipped,
		"miss": medication.StatusMissed,
	}[cmd]

	rec, err := a.ledger.RecordAction(args[0], status, nil, "")
	if err != nil {
		return err
	}

	fmt.Printf("Recorded %s for dose scheduled %s\n", rec.Status, rec.ScheduledAt.Format("Jan 2 15:04"))
	return nil
}

func (a *app) today() error {
	view, err := a.ledger.DayView(*patientID, time.Now())
	if err != nil {
		return err
	}

	if len(view) == 0 {
		fmt.Println("Nothing scheduled today.")
		return nil
	}

	names, err := a.planNames()
	if err != nil {
		return err
	}

	fmt.Printf("Today, %s:\n", time.Now().Format("Monday, Jan 2"))
	for _, ds := range view {
		name := names[ds.Dose.MedicationID]
		fmt.Printf("  %s  %-20s %-8s %s\n",
			ds.Dose.ScheduledAt.Format("15:04"), name, ds.Status, ds.RecordID)
	}
	return nil
}

func (a *app) report() error {
	now := time.Now()
	records, err := a.store.GetRecords(*patientID, "", now.AddDate(0, 0, -30), now)
	if err != nil {
		return err
	}

	snap := analytics.ComputeSnapshot(records, time.Time{}, time.Time{})
	fmt.Printf("Last 30 days: %d scheduled, %d taken, %d missed, %d skipped\n",
		snap.ScheduledCount, snap.TakenCount, snap.MissedCount, snap.SkippedCount)
	fmt.Printf("Adherence rate: %.2f%%\n", snap.RatePercent)
	fmt.Printf("Streak: %d days (best %d)\n", snap.CurrentStreakDays, snap.LongestStreakDays)

	for _, in := range analytics.Insights(records) {
		fmt.Printf("  [%s] %s\n", in.Priority, in.Description)
	}
	return nil
}

func (a *app) riskReport() error {
	now := time.Now()
	plans, err := a.store.ListPlans(*patientID, true)
	if err != nil {
		return err
	}

	for _, p := range plans {
		records, err := a.store.GetRecords(*patientID, p.ID, now.AddDate(0, 0, -a.cfg.Risk.OlderDays), now)
		if err != nil {
			return err
		}

		assessment := risk.Assess(records, now, a.cfg.Risk)
		fmt.Printf("%-20s score=%-3d %-9s %-8s %s\n",
			p.Name, assessment.Score, assessment.Trend, assessment.Level, assessment.Recommendation)
	}
	return nil
}

func (a *app) remind() error {
	now := time.Now()

	plans, err := a.store.ListPlans(*patientID, true)
	if err != nil {
		return err
	}
	doses := medication.GenerateAll(plans, now, now.AddDate(0, 0, 1), a.anchor)

	records, err := a.store.GetRecords(*patientID, "", now.AddDate(0, 0, -a.cfg.Reminder.TrailingDays), now)
	if err != nil {
		return err
	}

	names, err := a.planNames()
	if err != nil {
		return err
	}

	planner := reminder.NewPlanner(a.cfg.Reminder, a.metrics)
	for _, p := range planner.PlanDoses(doses, records, names, now) {
		fmt.Printf("%s  [%s] %s\n", p.FireAt.Format("15:04"), p.Tier, p.Message)
	}
	return nil
}

func (a *app) sweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	once := fs.Bool("once", false, "Run a single sweep pass and exit")
	fs.Parse(args)

	// The CLI has no delivery channel wired; notifications go to the log.
	notifier := sweep.NotifierFunc(func(_ context.Context, n sweep.Notification) error {
		a.logger.Warn("Dose overdue",
			zap.String("record_id", n.RecordID),
			zap.String("medication_id", n.MedicationID),
			zap.Int("escalation_level", n.EscalationLevel),
			zap.String("action", n.ActionRequired),
			zap.Bool("care_circle", n.CareCircleNotify))
		return nil
	})

	runner := sweep.NewRunner(a.ledger, notifier, a.cfg, a.logger, a.metrics)

	if *once {
		missed := runner.RunOnce(time.Now())
		fmt.Printf("Sweep complete: %d dose(s) marked missed\n", len(missed))
		return nil
	}

	if err := runner.Start(); err != nil {
		return err
	}
	defer runner.Stop()

	a.logger.Info("Sweeping on schedule; Ctrl-C to stop", zap.String("spec", a.cfg.Sweep.Spec))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}

func (a *app) planNames() (map[string]string, error) {
	plans, err := a.store.ListPlans(*patientID, false)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(plans))
	for _, p := range plans {
		names[p.ID] = p.Name
	}
	return names, nil
}

func printHelp() {
	fmt.Println(`dosetrack - medication scheduling and adherence tracking

Usage:
  dosetrack [flags] <command>

Commands:
  add      Add a medication plan (-name, -dosage, -per-day, -food, -end)
  list     List medication plans
  today    Show today's doses and their status
  take     Mark a dose taken:    dosetrack take <record-id>
  skip     Mark a dose skipped:  dosetrack skip <record-id>
  miss     Mark a dose missed:   dosetrack miss <record-id>
  report   Adherence snapshot for the last 30 days
  risk     Per-medication risk assessment
  remind   Planned reminders for the next 24 hours
  sweep    Run the overdue sweep (-once for a single pass)
  version  Print version

Flags:
  -config   Path to config file
  -data     Path to data directory
  -patient  Patient to operate on (default "default")`)
}
