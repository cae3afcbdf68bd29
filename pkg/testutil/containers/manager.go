//go:build integration

// Package containers manages shared testcontainers instances for integration
// tests. Containers start once per test binary and are shared across suites;
// Ryuk reaps them when the binary exits.
package containers

import "sync"

var (
	manager     *Manager
	managerOnce sync.Once
)

// Manager lazily starts and caches the containers integration suites need.
type Manager struct {
	postgresOnce sync.Once
	postgres     *PostgresContainer
	postgresErr  error

	redisOnce sync.Once
	redis     *RedisContainer
	redisErr  error
}

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}
