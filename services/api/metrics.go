package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "javia_device_registrations_total",
		Help: "Device registration upserts handled.",
	})

	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "javia_device_heartbeats_total",
		Help: "Device heartbeats handled.",
	})

	updateChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "javia_update_checks_total",
		Help: "Pending-update checks by outcome.",
	}, []string{"outcome"})

	updatesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "javia_updates_created_total",
		Help: "Updates accepted into the catalog by policy.",
	}, []string{"policy"})

	packageDownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "javia_package_downloads_total",
		Help: "Package download streams started.",
	})
)
