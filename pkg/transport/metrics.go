package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a channel's control-block statistics to Prometheus.
// It reads the shared counters on scrape, so registering it adds nothing to
// the publish hot path.
type Collector struct {
	ch *Channel

	frames       *prometheus.Desc
	dropped      *prometheus.Desc
	acquired     *prometheus.Desc
	publishBytes *prometheus.Desc
	staleness    *prometheus.Desc
	attached     *prometheus.Desc
}

// NewCollector builds a collector for one channel. Register it with any
// prometheus.Registerer.
func NewCollector(ch *Channel) *Collector {
	labels := prometheus.Labels{"channel": ch.Name()}
	return &Collector{
		ch: ch,
		frames: prometheus.NewDesc(
			"frameshm_frames_published_total",
			"Frames published into the shared region since creation.",
			nil, labels),
		dropped: prometheus.NewDesc(
			"frameshm_frames_dropped_total",
			"Frames published while the consumer was more than one slot behind.",
			nil, labels),
		acquired: prometheus.NewDesc(
			"frameshm_frames_acquired_total",
			"Frames this endpoint has copied out of the shared region.",
			nil, labels),
		publishBytes: prometheus.NewDesc(
			"frameshm_publish_bytes_total",
			"Payload bytes published into the shared region since creation.",
			nil, labels),
		staleness: prometheus.NewDesc(
			"frameshm_last_publish_age_seconds",
			"Seconds since the most recent publish.",
			nil, labels),
		attached: prometheus.NewDesc(
			"frameshm_attached",
			"Whether this endpoint currently maps the shared region.",
			nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frames
	ch <- c.dropped
	ch <- c.acquired
	ch <- c.publishBytes
	ch <- c.staleness
	ch <- c.attached
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(out chan<- prometheus.Metric) {
	attached := 0.0
	if c.ch.IsConnected() {
		attached = 1.0
	}
	out <- prometheus.MustNewConstMetric(c.attached, prometheus.GaugeValue, attached)

	md, err := c.ch.Metadata()
	if err != nil {
		return
	}
	out <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(md.FrameCounter))
	out <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(md.DroppedFrames))
	out <- prometheus.MustNewConstMetric(c.acquired, prometheus.CounterValue, float64(c.ch.acquired.Load()))
	out <- prometheus.MustNewConstMetric(c.publishBytes, prometheus.CounterValue,
		float64(md.FrameCounter)*float64(md.FrameSize))

	age := 0.0
	if md.LastWriteTimestampNs > 0 {
		age = time.Since(time.Unix(0, int64(md.LastWriteTimestampNs))).Seconds()
		if age < 0 {
			age = 0
		}
	}
	out <- prometheus.MustNewConstMetric(c.staleness, prometheus.GaugeValue, age)
}
