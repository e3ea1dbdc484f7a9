package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
)

type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
	} `json:"topics"`
}

// BacklogMonitor polls nsqd /stats and exports channel depth for the
// deliveries topic
type BacklogMonitor struct {
	statsURL string
	topic    string
	channel  string
	client   *http.Client
	logger   *logging.Logger
}

func NewBacklogMonitor(nsqdHTTPAddr, topic, channel string, logger *logging.Logger) *BacklogMonitor {
	if logger == nil {
		logger = logging.Discard()
	}
	base := nsqdHTTPAddr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &BacklogMonitor{
		statsURL: strings.TrimRight(base, "/") + "/stats?format=json",
		topic:    topic,
		channel:  channel,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Run polls every interval until ctx is done
func (b *BacklogMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Poll(ctx); err != nil {
				b.logger.Plain().WithError(err).Warn("nsq stats poll failed")
			}
		}
	}
}

func (b *BacklogMonitor) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.statsURL, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get nsq stats: HTTP %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode nsq stats: %w", err)
	}
	for _, t := range stats.Topics {
		if t.TopicName != b.topic {
			continue
		}
		for _, ch := range t.Channels {
			if ch.ChannelName == b.channel {
				metrics.UpdateQueueBacklog(float64(ch.Depth))
			}
			metrics.UpdateNSQChannel(t.TopicName, ch.ChannelName, float64(ch.Depth), float64(ch.InFlightCount))
		}
	}
	return nil
}
