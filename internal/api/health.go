package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsSource reports live counters for the stats endpoint.
type StatsSource interface {
	Stats() (rooms, connections int)
}

// RoomCounter reports how many rooms are live, occupied or not.
type RoomCounter interface {
	Len() int
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func StatsHandler(rooms RoomCounter, stats StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		occupied, connections := stats.Stats()
		writeJSON(w, http.StatusOK, map[string]int{
			"rooms":         rooms.Len(),
			"occupiedRooms": occupied,
			"connections":   connections,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}
