package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// readinessComponents must all be registered and healthy before the process
// reports ready.
var readinessComponents = []string{"store", "commander"}

// HealthStatus is the wire form of the health and readiness endpoints.
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

type componentState struct {
	healthy bool
	message string
	updated time.Time
}

type healthRegistry struct {
	mu         sync.RWMutex
	version    string
	started    time.Time
	components map[string]componentState
}

var health = newHealthRegistry()

func newHealthRegistry() *healthRegistry {
	return &healthRegistry{
		started:    time.Now(),
		components: map[string]componentState{},
	}
}

func (r *healthRegistry) set(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = componentState{healthy: healthy, message: message, updated: time.Now()}
}

// SetVersion sets the version string reported by the endpoints.
func SetVersion(version string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.version = version
}

// RegisterComponent records a component's initial health.
func RegisterComponent(name string, healthy bool, message string) {
	health.set(name, healthy, message)
}

// UpdateComponent records a change in a component's health.
func UpdateComponent(name string, healthy bool, message string) {
	health.set(name, healthy, message)
}

// GetHealth aggregates component health: unhealthy as soon as any component
// is unhealthy.
func GetHealth() HealthStatus {
	health.mu.RLock()
	defer health.mu.RUnlock()

	status := "healthy"
	components := map[string]string{}
	for name, c := range health.components {
		if c.healthy {
			components[name] = "healthy"
			continue
		}
		status = "unhealthy"
		components[name] = "unhealthy: " + c.message
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    health.version,
		Uptime:     time.Since(health.started).String(),
		StartTime:  health.started,
	}
}

// GetReadiness reports ready only once every readiness component has been
// registered healthy.
func GetReadiness() HealthStatus {
	health.mu.RLock()
	defer health.mu.RUnlock()

	status := "ready"
	message := ""
	components := map[string]string{}
	for _, name := range readinessComponents {
		c, registered := health.components[name]
		switch {
		case !registered:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !c.healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + c.message
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    health.version,
		Uptime:     time.Since(health.started).String(),
		StartTime:  health.started,
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler serves the /health endpoint. 503 when unhealthy.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := GetHealth()
		code := http.StatusOK
		if h.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	}
}

// ReadyHandler serves the /ready endpoint. 503 until ready.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := GetReadiness()
		code := http.StatusOK
		if ready.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, ready)
	}
}

// LivenessHandler serves the /live endpoint; 200 whenever the process runs.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(health.started).String(),
		})
	}
}
