package model

// Package model defines the persistent data model shared across the app:
// catalogued items, produced compilations, and the append-only usage
// records that drive cooldown-based rotation.
