// ABOUTME: Observer interfaces the saver and bot report through, plus no-op defaults
// ABOUTME: Lets components record metrics without depending on Prometheus directly

package metrics

// SaveObserver receives cache persistence events.
type SaveObserver interface {
	RecordSave(outcome string, seconds float64)
	RecordCacheSize(scopes, entries int)
}

// CommandObserver receives bot command events.
type CommandObserver interface {
	RecordCommand(command, outcome string)
	RecordCacheLookup(hit bool)
	RecordEviction()
}

// NoopObserver discards everything.
type NoopObserver struct{}

func (NoopObserver) RecordSave(_ string, _ float64) {}
func (NoopObserver) RecordCacheSize(_, _ int)       {}
func (NoopObserver) RecordCommand(_, _ string)      {}
func (NoopObserver) RecordCacheLookup(_ bool)       {}
func (NoopObserver) RecordEviction()                {}
