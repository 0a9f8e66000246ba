/*
Package log provides structured logging for the master coordinator using
zerolog.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Info("master listening")

	sessLog := log.WithSessionID(sess.NodeID)
	sessLog.Info().Str("event", "identify").Msg("slave identified")

Component loggers (WithComponent, WithNodeID, WithSessionID, WithJobID)
attach a single structured field and return a plain zerolog.Logger; chain
.With() for more context rather than adding new helper functions per field.
*/
package log
