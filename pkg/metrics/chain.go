package metrics

import "time"

type ChainMetrics struct {
	m       *Metrics
	chainId string
}

func (c *ChainMetrics) MessageObserved() {
	if c == nil || !c.m.enabled() {
		return
	}
	c.m.messagesObserved.WithLabelValues(c.chainId).Inc()
}

func (c *ChainMetrics) DecodeError() {
	if c == nil || !c.m.enabled() {
		return
	}
	c.m.decodeErrors.WithLabelValues(c.chainId).Inc()
}

func (c *ChainMetrics) WatcherReconnect() {
	if c == nil || !c.m.enabled() {
		return
	}
	c.m.watcherReconnects.WithLabelValues(c.chainId).Inc()
}

func (c *ChainMetrics) Cursor(block uint64) {
	if c == nil || !c.m.enabled() {
		return
	}
	c.m.watcherCursor.WithLabelValues(c.chainId).Set(float64(block))
}

func (c *ChainMetrics) Submission(status string) {
	if c == nil || !c.m.enabled() {
		return
	}
	c.m.submissions.WithLabelValues(c.chainId, status).Inc()
}

func (c *ChainMetrics) SubmissionLatency(d time.Duration) {
	if c == nil || !c.m.enabled() {
		return
	}
	c.m.submissionLatency.WithLabelValues(c.chainId).Observe(d.Seconds())
}
