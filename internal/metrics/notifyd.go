// Package metrics provides Prometheus-compatible metrics for notifyd.
package metrics

import (
	"time"
)

// DaemonMetrics holds all notifyd-specific metrics.
type DaemonMetrics struct {
	registry *Registry

	// Counters
	PostsTotal            *Counter
	DismissalsTotal       *Counter
	ClicksTotal           *Counter
	SortsTotal            *Counter
	ReconsiderationsTotal *Counter
	ExtractorPanicsTotal  *Counter
	SavesTotal            *Counter
	LoadsTotal            *Counter
	ParseFailuresTotal    *Counter
	ChannelsCreatedTotal  *Counter
	RestoresTotal         *Counter
	ErrorsTotal           *Counter

	// Gauges
	RankedNotifications *Gauge
	PackageRecords      *Gauge
	StagedRecords       *Gauge
	LastSaveTs          *Gauge
	UptimeSeconds       *Gauge

	// Histograms
	SortDuration      *Histogram
	ExtractorDuration *Histogram
	SaveDuration      *Histogram
	LoadDuration      *Histogram
}

// startTime records when metrics were initialized.
var startTime = time.Now()

// NewDaemonMetrics creates and registers all notifyd metrics.
func NewDaemonMetrics(registry *Registry) *DaemonMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &DaemonMetrics{
		registry: registry,

		// Counters
		PostsTotal: registry.RegisterCounter(
			"posts_total",
			"Total number of notifications posted",
			nil,
		),
		DismissalsTotal: registry.RegisterCounter(
			"dismissals_total",
			"Total number of notifications dismissed",
			nil,
		),
		ClicksTotal: registry.RegisterCounter(
			"clicks_total",
			"Total number of notifications clicked",
			nil,
		),
		SortsTotal: registry.RegisterCounter(
			"sorts_total",
			"Total number of ranking passes",
			nil,
		),
		ReconsiderationsTotal: registry.RegisterCounter(
			"reconsiderations_total",
			"Total number of deferred re-ranking runs",
			nil,
		),
		ExtractorPanicsTotal: registry.RegisterCounter(
			"extractor_panics_total",
			"Total number of recovered extractor panics",
			nil,
		),
		SavesTotal: registry.RegisterCounter(
			"policy_saves_total",
			"Total number of policy file writes",
			nil,
		),
		LoadsTotal: registry.RegisterCounter(
			"policy_loads_total",
			"Total number of policy file reads",
			nil,
		),
		ParseFailuresTotal: registry.RegisterCounter(
			"policy_parse_failures_total",
			"Total number of unreadable policy files",
			nil,
		),
		ChannelsCreatedTotal: registry.RegisterCounter(
			"channels_created_total",
			"Total number of notification channels created",
			nil,
		),
		RestoresTotal: registry.RegisterCounter(
			"policy_restores_total",
			"Total number of backup payload restores",
			nil,
		),
		ErrorsTotal: registry.RegisterCounter(
			"errors_total",
			"Total number of errors",
			nil,
		),

		// Gauges
		RankedNotifications: registry.RegisterGauge(
			"ranked_notifications",
			"Number of notifications in the active ranked set",
			nil,
		),
		PackageRecords: registry.RegisterGauge(
			"package_records",
			"Number of package policy records in the store",
			nil,
		),
		StagedRecords: registry.RegisterGauge(
			"staged_records",
			"Number of policy records awaiting an installed uid",
			nil,
		),
		LastSaveTs: registry.RegisterGauge(
			"last_save_timestamp",
			"Unix timestamp of the last policy file write",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
			nil,
		),

		// Histograms
		SortDuration: registry.RegisterHistogram(
			"sort_duration_seconds",
			"Duration of full ranking passes in seconds",
			nil,
			SortBuckets,
		),
		ExtractorDuration: registry.RegisterHistogram(
			"extractor_duration_seconds",
			"Duration of signal extractor pipelines in seconds",
			nil,
			SortBuckets,
		),
		SaveDuration: registry.RegisterHistogram(
			"save_duration_seconds",
			"Duration of policy file writes in seconds",
			nil,
			PersistBuckets,
		),
		LoadDuration: registry.RegisterHistogram(
			"load_duration_seconds",
			"Duration of policy file reads in seconds",
			nil,
			PersistBuckets,
		),
	}

	return m
}

// Registry returns the underlying registry, for the HTTP exporter.
func (m *DaemonMetrics) Registry() *Registry {
	return m.registry
}

// RecordPost records a posted notification.
func (m *DaemonMetrics) RecordPost() {
	m.PostsTotal.Inc()
}

// RecordDismissal records a dismissed notification.
func (m *DaemonMetrics) RecordDismissal() {
	m.DismissalsTotal.Inc()
}

// RecordClick records a clicked notification.
func (m *DaemonMetrics) RecordClick() {
	m.ClicksTotal.Inc()
}

// RecordSort records a completed ranking pass over n notifications.
func (m *DaemonMetrics) RecordSort(duration time.Duration, n int) {
	m.SortsTotal.Inc()
	m.SortDuration.ObserveDuration(duration)
	m.RankedNotifications.Set(int64(n))
}

// StartSortTimer returns a timer for ranking passes.
func (m *DaemonMetrics) StartSortTimer() *HistogramTimer {
	return m.SortDuration.Timer()
}

// RecordReconsideration records a deferred re-ranking run.
func (m *DaemonMetrics) RecordReconsideration() {
	m.ReconsiderationsTotal.Inc()
}

// RecordExtractorPanic records a recovered extractor panic.
func (m *DaemonMetrics) RecordExtractorPanic() {
	m.ExtractorPanicsTotal.Inc()
	m.ErrorsTotal.Inc()
}

// RecordExtractorRun records one pipeline run over a notification.
func (m *DaemonMetrics) RecordExtractorRun(duration time.Duration) {
	m.ExtractorDuration.ObserveDuration(duration)
}

// RecordSave records a policy file write.
func (m *DaemonMetrics) RecordSave(duration time.Duration) {
	m.SavesTotal.Inc()
	m.SaveDuration.ObserveDuration(duration)
	m.LastSaveTs.Set(time.Now().Unix())
}

// StartSaveTimer returns a timer for policy file writes.
func (m *DaemonMetrics) StartSaveTimer() *HistogramTimer {
	return m.SaveDuration.Timer()
}

// RecordLoad records a policy file read.
func (m *DaemonMetrics) RecordLoad(duration time.Duration, failed bool) {
	m.LoadsTotal.Inc()
	m.LoadDuration.ObserveDuration(duration)
	if failed {
		m.ParseFailuresTotal.Inc()
		m.ErrorsTotal.Inc()
	}
}

// RecordChannelCreated records a new notification channel.
func (m *DaemonMetrics) RecordChannelCreated() {
	m.ChannelsCreatedTotal.Inc()
}

// RecordRestore records a backup payload restore.
func (m *DaemonMetrics) RecordRestore() {
	m.RestoresTotal.Inc()
}

// RecordError records an error.
func (m *DaemonMetrics) RecordError() {
	m.ErrorsTotal.Inc()
}

// SetStoreSize sets the package record gauges.
func (m *DaemonMetrics) SetStoreSize(records, staged int) {
	m.PackageRecords.Set(int64(records))
	m.StagedRecords.Set(int64(staged))
}

// UpdateUptime updates the uptime metric.
func (m *DaemonMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Snapshot returns a snapshot of key metrics.
func (m *DaemonMetrics) Snapshot() map[string]interface{} {
	m.UpdateUptime()
	return map[string]interface{}{
		"posts_total":            m.PostsTotal.Value(),
		"dismissals_total":       m.DismissalsTotal.Value(),
		"clicks_total":           m.ClicksTotal.Value(),
		"sorts_total":            m.SortsTotal.Value(),
		"reconsiderations_total": m.ReconsiderationsTotal.Value(),
		"extractor_panics_total": m.ExtractorPanicsTotal.Value(),
		"policy_saves_total":     m.SavesTotal.Value(),
		"policy_loads_total":     m.LoadsTotal.Value(),
		"channels_created_total": m.ChannelsCreatedTotal.Value(),
		"errors_total":           m.ErrorsTotal.Value(),
		"ranked_notifications":   m.RankedNotifications.Value(),
		"package_records":        m.PackageRecords.Value(),
		"staged_records":         m.StagedRecords.Value(),
		"uptime_seconds":         m.UptimeSeconds.Value(),
		"sort_avg_seconds":       m.SortDuration.Mean(),
		"save_avg_seconds":       m.SaveDuration.Mean(),
	}
}

// Global notifyd metrics instance.
var defaultDaemonMetrics *DaemonMetrics

// GetMetrics returns the global notifyd metrics instance.
func GetMetrics() *DaemonMetrics {
	if defaultDaemonMetrics == nil {
		defaultDaemonMetrics = NewDaemonMetrics(Default())
	}
	return defaultDaemonMetrics
}

// InitMetrics initializes the global notifyd metrics with a custom registry.
func InitMetrics(registry *Registry) *DaemonMetrics {
	defaultDaemonMetrics = NewDaemonMetrics(registry)
	return defaultDaemonMetrics
}
