package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/rahul-roy-glean/frame-timings/pkg/pipeline"
	"github.com/rahul-roy-glean/frame-timings/pkg/report"
)

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func readyHandler(pipe *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := pipe.Stats()
		if stats.Completed == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("No frame rasterized yet"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready: " + strconv.FormatUint(stats.Completed, 10) + " frames"))
	}
}

// framesHandler serves the recent frame history. ?limit=N trims it to the
// newest N frames.
func framesHandler(timeline *report.Timeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := timeline.Snapshot()
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			if limit < len(snap.Frames) {
				snap.Frames = snap.Frames[len(snap.Frames)-limit:]
			}
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

type statsResponse struct {
	Pipeline      pipeline.Stats `json:"pipeline"`
	PendingReport int            `json:"pending_report"`
}

func statsHandler(pipe *pipeline.Pipeline, reporter *report.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statsResponse{
			Pipeline:      pipe.Stats(),
			PendingReport: reporter.Pending(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// simulatedStage sleeps for cost plus up to jitter, and fails with the given
// probability.
func simulatedStage(cost, jitter time.Duration, failureRate float64) pipeline.Stage {
	return func(ctx context.Context, _ uint64) error {
		d := cost
		if jitter > 0 {
			d += rand.N(jitter)
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if failureRate > 0 && rand.Float64() < failureRate {
			return errSimulatedFailure
		}
		return nil
	}
}

var errSimulatedFailure = errors.New("simulated stage failure")
