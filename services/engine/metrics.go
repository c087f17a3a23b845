package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricExecutionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recoveryd_executions_created_total",
		Help: "Executions created.",
	})
	metricExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recoveryd_executions_finished_total",
		Help: "Executions reaching a terminal state, by status.",
	}, []string{"status"})
	metricWavesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recoveryd_waves_started_total",
		Help: "Recovery waves started.",
	})
	metricWavePolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recoveryd_wave_polls_total",
		Help: "Wave poll cycles evaluated.",
	})
)
