package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/signald/internal/database"
	"github.com/aristath/signald/internal/modules/engine"
	"github.com/aristath/signald/internal/modules/marketdata"
)

// SystemHandlers serves operational status: process health, database stats,
// disk usage, registered engine versions, feed connectivity.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	decisionsDB *database.DB
	cacheDB     *database.DB
	stream      *marketdata.QuoteStream
	engines     *engine.Router
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	decisionsDB, cacheDB *database.DB,
	stream *marketdata.QuoteStream,
	engines *engine.Router,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		decisionsDB: decisionsDB,
		cacheDB:     cacheDB,
		stream:      stream,
		engines:     engines,
	}
}

// HandleStatus handles GET /api/system
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	// CPU usage (100ms sample keeps the endpoint snappy)
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		status["cpu_percent"] = cpuPercent[0]
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		status["memory"] = map[string]interface{}{
			"total_mb":     vmStat.Total / 1024 / 1024,
			"used_mb":      vmStat.Used / 1024 / 1024,
			"used_percent": vmStat.UsedPercent,
		}
	}

	streamStatus := "disabled"
	if h.stream != nil {
		if h.stream.IsConnected() {
			streamStatus = "connected"
		} else {
			streamStatus = "disconnected"
		}
	}
	status["quote_stream"] = streamStatus
	status["engine_versions"] = h.engines.Versions()

	h.writeJSON(w, http.StatusOK, status)
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	result := make(map[string]interface{})

	for _, db := range []*database.DB{h.decisionsDB, h.cacheDB} {
		if db == nil {
			continue
		}
		stats, err := db.GetStats()
		if err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Failed to collect database stats")
			result[db.Name()] = map[string]string{"error": err.Error()}
			continue
		}
		version, _ := db.UserVersion()
		result[db.Name()] = map[string]interface{}{
			"size_bytes":     stats.SizeBytes,
			"wal_size_bytes": stats.WALSizeBytes,
			"page_count":     stats.PageCount,
			"page_size":      stats.PageSize,
			"freelist_count": stats.FreelistCount,
			"schema_version": version,
			"profile":        string(db.Profile()),
		}
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleDiskUsage handles GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	size, err := getDirSize(h.dataDir)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to measure data directory")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to measure data directory"})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data_dir":   h.dataDir,
		"size_bytes": size,
		"size_mb":    float64(size) / 1024 / 1024,
	})
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// getDirSize walks a directory tree and sums file sizes
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
