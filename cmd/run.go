package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/sievelabs/sift/internal/catalog"
	"github.com/sievelabs/sift/internal/conversation"
	"github.com/sievelabs/sift/internal/engine"
	"github.com/sievelabs/sift/internal/llm"
	"github.com/sievelabs/sift/internal/llm/gemini"
	"github.com/sievelabs/sift/internal/logger"
	"github.com/sievelabs/sift/internal/record"
	"github.com/sievelabs/sift/internal/secrets"
	"github.com/sievelabs/sift/internal/session"
	"github.com/sievelabs/sift/internal/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate one batch of scraped records and advance the session",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("input", "i", "", "JSONL feed of scraped records (default is stdin)")
	runCmd.Flags().Bool("reset", false, "clear any existing session before starting")

	viper.BindPFlag("input", runCmd.Flags().Lookup("input"))
}

// run evaluates a single page batch. The scraping host invokes it once per
// results page, so pagination state lives in the session store rather than in
// this process.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting sift", zap.String("version", version))

	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	store, err := session.Open(config.Session.Path, logger)
	if err != nil {
		if errors.Is(err, session.ErrLocked) {
			logger.Fatal("another sift process holds this session",
				zap.String("path", config.Session.Path))
		}
		logger.Fatal("opening session store", zap.Error(err))
	}
	defer store.Close()

	if cmd.Flag("reset").Value.String() == "true" {
		if err := store.Clear(ctx); err != nil {
			logger.Fatal("clearing session", zap.Error(err))
		}
		logger.Info("cleared previous session state")
	}

	state, err := ensureSession(ctx, store, config, logger)
	if err != nil {
		logger.Fatal("preparing session", zap.Error(err))
	}

	caller := newCaller(ctx, config, logger)

	eng := engine.New(caller, conversation.NewManager(), engine.Config{
		JobsCriteria:   config.Criteria.Jobs,
		PeopleCriteria: config.Criteria.People,
		Model:          providerModel(config),
	}, logger)

	feed, err := openFeed(cmd)
	if err != nil {
		logger.Fatal("opening record feed", zap.Error(err))
	}
	defer feed.Close()

	records, err := record.ReadFeed(feed, logger)
	if err != nil {
		logger.Fatal("reading record feed", zap.Error(err))
	}

	logger.Info("processing batch",
		zap.Int("records", records.Len()),
		zap.Int("page", state.Cursor.CurrentPage),
	)

	if err := processBatch(ctx, store, eng, state, records, logger); err != nil {
		logger.Fatal("processing batch", zap.Error(err))
	}

	if err := finishBatch(ctx, store, state, logger); err != nil {
		logger.Fatal("finishing batch", zap.Error(err))
	}
}

// ensureSession resumes the active session or starts a fresh one from
// configuration.
func ensureSession(ctx context.Context, store *session.Store, config *Config, logger *zap.Logger) (*session.State, error) {
	state, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if state.Phase == session.PhaseActive {
		logger.Info("resuming session",
			zap.String("search", state.SearchLocator),
			zap.Int("current_page", state.Cursor.CurrentPage),
		)
		return state, nil
	}

	if strings.TrimSpace(config.Session.SearchLocator) == "" {
		return nil, errors.New("session.search-locator is required to start a session")
	}

	params := session.StartParams{
		Mode:            config.Session.Mode,
		SearchLocator:   config.Session.SearchLocator,
		StartPage:       config.Session.StartPage,
		TargetPageCount: config.Session.TargetPageCount,
		Formats:         config.Session.Formats,
		IncludeViewed:   config.Session.IncludeViewed,
		Toggles: session.Toggles{
			AIEnabled:       config.AI.Enabled,
			FullAIEnabled:   config.AI.FullEnabled,
			PeopleAIEnabled: config.AI.PeopleEnabled,
		},
	}
	if err := store.Start(ctx, params); err != nil {
		return nil, err
	}

	logger.Info("started session",
		zap.String("search", params.SearchLocator),
		zap.Int("start_page", params.StartPage),
		zap.Int("target_page_count", params.TargetPageCount),
	)

	return store.Load(ctx)
}

// newCaller builds the configured provider backend. A missing or incomplete
// provider section downgrades to nil, which the engine treats as "AI off"
// with permissive defaults, rather than aborting the scrape.
func newCaller(ctx context.Context, config *Config, log *zap.Logger) llm.Caller {
	name := strings.TrimSpace(strings.ToLower(config.Provider))
	if name == "" {
		log.Warn("no llm provider configured, evaluations default to accept")
		return nil
	}

	kind, err := llm.ParseKind(name)
	if err != nil {
		log.Warn("skipping AI evaluation", zap.Error(err))
		return nil
	}

	pc := config.providerConfig(string(kind))
	if pc == nil {
		log.Warn("skipping AI evaluation",
			zap.String(logger.FieldProvider, string(kind)),
			zap.String("reason", "provider section missing from config"),
		)
		return nil
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: string(kind) + " api key",
		File: pc.APIKeyFile,
		Env:  "SIFT_" + strings.ToUpper(string(kind)) + "_KEY_FILE",
	})
	if err != nil {
		log.Warn("skipping AI evaluation", zap.Error(err))
		return nil
	}

	callLogger := log.With(logger.CommonFields(string(kind), pc.Model)...)

	if kind == llm.KindGemini {
		caller, err := gemini.New(ctx, apiKey, pc.Model, pc.MaxRetries, callLogger)
		if err != nil {
			log.Warn("skipping AI evaluation", zap.Error(err))
			return nil
		}
		return caller
	}

	caller, err := llm.NewClient(kind, llm.Config{
		APIKey:            apiKey,
		BaseURL:           pc.BaseURL,
		MaxRetries:        pc.MaxRetries,
		MaxLogLength:      pc.MaxLogLength,
		RequestsPerSecond: pc.RequestsPerSecond,
	}, callLogger)
	if err != nil {
		log.Warn("skipping AI evaluation", zap.Error(err))
		return nil
	}
	return caller
}

func llmKind(config *Config) (llm.Kind, error) {
	return llm.ParseKind(config.Provider)
}

func providerModel(config *Config) string {
	if pc := config.providerConfig(strings.TrimSpace(strings.ToLower(config.Provider))); pc != nil {
		return pc.Model
	}
	return ""
}

// processBatch runs every record through its domain's protocol, strictly in
// feed order. Accepted records land in the durable buffer before counters
// move on, so a crash loses at most bookkeeping, never an accepted record.
func processBatch(ctx context.Context, store *session.Store, eng *engine.Engine, state *session.State, records *record.Records, logger *zap.Logger) error {
	for _, rec := range records.Items {
		active, err := store.Active(ctx)
		if err != nil {
			return err
		}
		if !active {
			logger.Info("session stopped, abandoning remaining records")
			return nil
		}

		if rec.Domain == record.DomainPeople {
			if err := processPerson(ctx, store, eng, state, rec, logger); err != nil {
				return err
			}
			continue
		}
		if err := processJob(ctx, store, eng, state, rec, logger); err != nil {
			return err
		}
	}
	return nil
}

func processJob(ctx context.Context, store *session.Store, eng *engine.Engine, state *session.State, rec *record.Record, log *zap.Logger) error {
	if err := store.IncrCounter(ctx, record.DomainJobs, session.CounterRecordsProcessed); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String(logger.FieldDomain, string(rec.Domain)),
		zap.String("title", utils.TruncateForLog(rec.Title, 80)),
	}

	switch {
	case state.Toggles.FullAIEnabled:
		return jobTwoTier(ctx, store, eng, rec, log, fields)
	case state.Toggles.AIEnabled:
		decision := eng.Evaluate(ctx, rec.Text)
		if eng.Ready(record.DomainJobs) {
			if err := store.IncrCounter(ctx, record.DomainJobs, session.CounterAIEvaluated); err != nil {
				return err
			}
		}
		if !decision.Download {
			log.Info("record filtered out", fields...)
			return nil
		}
		if decision.Reason != "" {
			log.Warn("keeping record on permissive default",
				append(fields, zap.String("reason", decision.Reason))...)
		}
		return acceptJob(ctx, store, rec, log, fields)
	default:
		// AI off: everything passes through.
		return acceptJob(ctx, store, rec, log, fields)
	}
}

// jobTwoTier runs triage on the card and, on a maybe, the full evaluation
// over the detailed text.
func jobTwoTier(ctx context.Context, store *session.Store, eng *engine.Engine, rec *record.Record, log *zap.Logger, fields []zap.Field) error {
	triage := eng.Triage(ctx, rec.Text)
	if eng.Ready(record.DomainJobs) {
		if err := store.IncrCounter(ctx, record.DomainJobs, session.CounterAIEvaluated); err != nil {
			return err
		}
	}

	switch triage.Outcome {
	case engine.TriageReject:
		log.Info("record rejected at triage",
			append(fields, zap.String("reason", triage.Reason))...)
		return nil
	case engine.TriageKeep:
		return acceptJob(ctx, store, rec, log, fields)
	}

	// Maybe: the decision needs full detail. A card-only record cannot be
	// escalated, so it stays in.
	if rec.FullText == "" {
		log.Warn("triage asked for full detail but record has none, keeping", fields...)
		return acceptJob(ctx, store, rec, log, fields)
	}

	full := eng.EvaluateFull(ctx, rec.FullText)
	if eng.Ready(record.DomainJobs) {
		if err := store.IncrCounter(ctx, record.DomainJobs, session.CounterAIEvaluated); err != nil {
			return err
		}
	}
	if !full.Accept {
		log.Info("record rejected at full evaluation",
			append(fields, zap.String("reason", full.Reason))...)
		return nil
	}
	return acceptJob(ctx, store, rec, log, fields)
}

// acceptJob commits an accepted record. A stop request may land while the
// evaluation round trip is in flight, so the session state is re-checked
// here: a decision that resolves after a stop is discarded, not persisted.
func acceptJob(ctx context.Context, store *session.Store, rec *record.Record, log *zap.Logger, fields []zap.Field) error {
	active, err := store.Active(ctx)
	if err != nil {
		return err
	}
	if !active {
		log.Info("discarding decision resolved after session stop", fields...)
		return nil
	}
	if err := store.AppendRecords(ctx, []record.Record{*rec}); err != nil {
		return err
	}
	if err := store.IncrCounter(ctx, record.DomainJobs, session.CounterAIAccepted); err != nil {
		return err
	}
	log.Debug("record accepted", fields...)
	return nil
}

// acceptedScoreThreshold is the lowest people score counted as a match.
const acceptedScoreThreshold = 4

func processPerson(ctx context.Context, store *session.Store, eng *engine.Engine, state *session.State, rec *record.Record, log *zap.Logger) error {
	if err := store.IncrCounter(ctx, record.DomainPeople, session.CounterRecordsProcessed); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String(logger.FieldDomain, string(rec.Domain)),
		zap.String("title", utils.TruncateForLog(rec.Title, 80)),
	}

	if !state.Toggles.PeopleAIEnabled {
		if err := store.AppendRecords(ctx, []record.Record{*rec}); err != nil {
			return err
		}
		log.Debug("record buffered without scoring", fields...)
		return nil
	}

	decision := eng.Score(ctx, rec.Text)
	if eng.Ready(record.DomainPeople) {
		if err := store.IncrCounter(ctx, record.DomainPeople, session.CounterAIEvaluated); err != nil {
			return err
		}
	}

	log.Info("scored person profile",
		append(fields,
			zap.Int("score", decision.Value),
			zap.String("label", decision.Label),
		)...)

	// Same post-call check as acceptJob: a stop that arrived during the
	// scoring round trip discards this decision.
	active, err := store.Active(ctx)
	if err != nil {
		return err
	}
	if !active {
		log.Info("discarding decision resolved after session stop", fields...)
		return nil
	}

	if err := store.AppendRecords(ctx, []record.Record{*rec}); err != nil {
		return err
	}
	if decision.Value >= acceptedScoreThreshold {
		return store.IncrCounter(ctx, record.DomainPeople, session.CounterAIAccepted)
	}
	return nil
}

// finishBatch advances the cursor and closes out the session when the target
// page count is reached, dumping the accepted buffer for the host to pick up.
func finishBatch(ctx context.Context, store *session.Store, state *session.State, logger *zap.Logger) error {
	active, err := store.Active(ctx)
	if err != nil {
		return err
	}
	if !active {
		return nil
	}

	next, err := store.AdvancePage(ctx)
	if err != nil {
		return err
	}

	done := state.Cursor.TargetPageCount > 0 &&
		next-state.Cursor.StartPage >= state.Cursor.TargetPageCount
	if !done {
		logger.Info("batch complete", zap.Int("next_page", next))
		return nil
	}

	if err := store.Stop(ctx); err != nil {
		return err
	}

	jobs, err := store.Buffer(ctx, record.DomainJobs)
	if err != nil {
		return err
	}
	people, err := store.Buffer(ctx, record.DomainPeople)
	if err != nil {
		return err
	}

	accepted := &record.Records{}
	for i := range jobs {
		accepted.Items = append(accepted.Items, &jobs[i])
	}
	for i := range people {
		accepted.Items = append(accepted.Items, &people[i])
	}

	if accepted.Len() == 0 {
		logger.Info("session complete", zap.String("reason", "no records accepted"))
		return nil
	}

	filename, err := accepted.DumpToTmpFile()
	if err != nil {
		return fmt.Errorf("dump results to file: %w", err)
	}

	logger.Info("session complete",
		zap.Int("accepted", accepted.Len()),
		zap.String("filename", filename),
	)
	return nil
}

func openFeed(cmd *cobra.Command) (*os.File, error) {
	path := cmd.Flag("input").Value.String()
	if path == "" || path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}

// modelCatalog is shared by the models command; declared here so run and
// models resolve providers the same way.
var modelCatalog = catalog.New(0, nil)
