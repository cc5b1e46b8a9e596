package metrics

import "time"

type CatalogRecorder interface {
	ObserveMode(database bool, degraded bool)
	IncFallbackReads(op string)
	IncMutation(op string, ok bool)
	ObserveRender(targets int)
	IncRestart(ok bool)
}

type NoopCatalogRecorder struct{}

func (NoopCatalogRecorder) ObserveMode(database bool, degraded bool) {}
func (NoopCatalogRecorder) IncFallbackReads(op string)               {}
func (NoopCatalogRecorder) IncMutation(op string, ok bool)           {}
func (NoopCatalogRecorder) ObserveRender(targets int)                {}
func (NoopCatalogRecorder) IncRestart(ok bool)                       {}

type ExportRecorder interface {
	ObserveCycle(duration time.Duration, ok bool)
	AddPoints(n int)
	IncWriteFailures()
	AddStaleFiles(n int)
	ObserveTargets(n int)
}

type NoopExportRecorder struct{}

func (NoopExportRecorder) ObserveCycle(duration time.Duration, ok bool) {}
func (NoopExportRecorder) AddPoints(n int)                              {}
func (NoopExportRecorder) IncWriteFailures()                            {}
func (NoopExportRecorder) AddStaleFiles(n int)                          {}
func (NoopExportRecorder) ObserveTargets(n int)                         {}
