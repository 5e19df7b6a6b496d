package storage

// Package storage provides the optional alert-history layer.
//
// It records every alert dispatch attempt (sent or failed) so the digest
// service can summarize recent activity. Monitor counter state is never
// persisted; the history is purely observational.
