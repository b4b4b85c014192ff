package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// diagHandler reports this process's own resource usage, for operators
// who want more than a bare "ok" from the load balancer's health check.
func diagHandler(w http.ResponseWriter, r *http.Request) {
	type diag struct {
		PID        int32   `json:"pid"`
		RSSBytes   uint64  `json:"rss_bytes"`
		CPUPercent float64 `json:"cpu_percent"`
		NumThreads int32   `json:"num_threads"`
	}

	out := diag{PID: int32(os.Getpid())}

	proc, err := process.NewProcessWithContext(r.Context(), out.PID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(out)
		return
	}
	if mi, err := proc.MemoryInfoWithContext(r.Context()); err == nil && mi != nil {
		out.RSSBytes = mi.RSS
	}
	if pct, err := proc.CPUPercentWithContext(r.Context()); err == nil {
		out.CPUPercent = pct
	}
	if n, err := proc.NumThreadsWithContext(r.Context()); err == nil {
		out.NumThreads = n
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}
