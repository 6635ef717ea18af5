package export

import (
	"go.uber.org/zap"
)

// ProgressSink is the optional external status receiver — e.g. an admin
// UI or management agent. It is never required: ProgressReporter always
// logs through zap regardless of whether one is attached.
type ProgressSink interface {
	StartCollection(uri string)
	StartDocument(name string, current, total int)
	Error(message string, cause error)
	// SetPercentComplete is called only when the integer value changes
	//.
	SetPercentComplete(percent int)
}

// ProgressReporter is the export engine's status callback: it logs every
// signal through zap and, if a ProgressSink is attached, relays
// start/error signals to it and throttles percent-complete updates to
// only when the integer value changes.
type ProgressReporter struct {
	log  *zap.Logger
	sink ProgressSink

	lastPercent    int
	hasLastPercent bool
}

// NewProgressReporter builds a reporter. sink may be nil.
func NewProgressReporter(log *zap.Logger, sink ProgressSink) *ProgressReporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProgressReporter{log: log, sink: sink}
}

// StartCollection signals traversal has begun exporting uri.
func (p *ProgressReporter) StartCollection(uri string) {
	p.log.Info("exporting collection", zap.String("uri", uri))
	if p.sink != nil {
		p.sink.StartCollection(uri)
	}
}

// StartDocument signals traversal has begun exporting name, the
// (current, total) pair within its collection driving the percent
// calculation below.
func (p *ProgressReporter) StartDocument(name string, current, total int) {
	p.log.Debug("exporting document", zap.String("name", name), zap.Int("current", current), zap.Int("total", total))
	if p.sink != nil {
		p.sink.StartDocument(name, current, total)
	}
	p.updatePercent(current, total)
}

// updatePercent computes 100*(seen+1)/(total+1) and forwards it to the
// attached sink only when it differs from the last value sent
//.
func (p *ProgressReporter) updatePercent(seen, total int) {
	if p.sink == nil {
		return
	}
	percent := 100 * (seen + 1) / (total + 1)
	if p.hasLastPercent && percent == p.lastPercent {
		return
	}
	p.lastPercent = percent
	p.hasLastPercent = true
	p.sink.SetPercentComplete(percent)
}

// Error reports a recoverable fault: a single per-collection or
// per-document failure that does not abort the export. Logged at Warn,
// not Error — Error level is reserved for Fatal. The "EXPORT:" prefix is
// reserved for Fatal; per-collection/per-document callers pass their own
// prefix-free message.
func (p *ProgressReporter) Error(message string, cause error) {
	p.log.Warn(message, zap.Error(cause))
	if p.sink != nil {
		p.sink.Error(message, cause)
	}
}

// Fatal reports a tier-1 fatal error: unable to allocate
// the archive, or an I/O error during structural setup/teardown.
func (p *ProgressReporter) Fatal(message string, cause error) {
	message = "EXPORT: " + message
	p.log.Error(message, zap.Error(cause))
	if p.sink != nil {
		p.sink.Error(message, cause)
	}
}
