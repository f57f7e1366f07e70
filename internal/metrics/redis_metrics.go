package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Redis на обоих узлах: registered-кэш и inbox центра, лок sweep на клинике.
var (
	redisCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_commands_total",
			Help: "Redis commands issued, by command and result (ok|error).",
		},
		[]string{"command", "result"},
	)

	redisCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_command_duration_seconds",
			Help:    "Redis command latency.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"command"},
	)

	redisLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_lookups_total",
			Help: "Key lookups by result (hit|miss). Registration short-circuit on the central node.",
		},
		[]string{"result"},
	)

	redisUsedMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "redis_used_memory_bytes",
			Help: "used_memory reported by INFO memory.",
		},
	)
)

var redisRegisterOnce sync.Once

func registerRedisMetrics() {
	redisRegisterOnce.Do(func() {
		prometheus.MustRegister(
			redisCommands,
			redisCommandDuration,
			redisLookups,
			redisUsedMemory,
		)
	})
}

// ObserveRedisCommand пишет результат и длительность одной команды.
func ObserveRedisCommand(command string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	redisCommands.WithLabelValues(command, result).Inc()
	redisCommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}

func IncRedisLookup(hit bool) {
	if hit {
		redisLookups.WithLabelValues("hit").Inc()
		return
	}
	redisLookups.WithLabelValues("miss").Inc()
}

func SetRedisUsedMemory(n int64) {
	if n < 0 {
		n = 0
	}
	redisUsedMemory.Set(float64(n))
}
