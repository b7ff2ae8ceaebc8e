// Package logx is a thin structured logging layer over zerolog.
//
// It exists so the rest of the codebase can log through a stable, minimal
// API (Logger + Field helpers) while sinks and levels stay reconfigurable
// at runtime via Service.Apply().
package logx
