// Package logging provides structured logging for roundtable.
//
// It wraps log/slog with a JSON handler writing to {dir}/debug.log inside an
// iteration directory, with size-based rotation. Child loggers carry the
// iteration id, phase and participant so that one debug log can be filtered
// per turn after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(iterationDir, logging.LevelInfo)
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	turnLog := logger.WithIteration("it-1").WithPhase("planning").WithParticipant("alice")
//	turnLog.Debug("model call", "messages", 12)
//
// # Thread Safety
//
// Logger and RotatingWriter are safe for concurrent use. Child loggers share
// the parent's writer.
package logging
