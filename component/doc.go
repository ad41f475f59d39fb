// Package component defines the lifecycle contract for runtime
// infrastructure. The resource registry, metrics collector, and event bus
// implement Component so a host application can start them in dependency
// order, health-check them, and stop them in reverse order on shutdown.
package component
