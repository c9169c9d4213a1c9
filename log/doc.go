// Package log provides the leveled logging facade used by the training
// loop, the rollout worker pool and the experience updater.
//
// The default backend writes to stderr via the standard library. A
// golog-backed implementation is available for applications that already
// configure kataras/golog:
//
//	logger := log.NewGologLogger(golog.Default)
//	log.SetDefaultLogger(logger)
package log
