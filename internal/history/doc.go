// Package history persists what happened to the miner: solo block wins,
// supervised runs with their final share counters, and tuning outcomes.
//
// SQLiteRepository stores rows in the tables created by the embedded
// migrations. Recorder subscribes to the event bus and writes as events
// arrive:
//
//	repo := history.NewSQLiteRepository(db.DB)
//	rec := history.NewRecorder(repo)
//	rec.SetLogger(log)
//	go rec.Run(ctx, sup.Sink())
package history
