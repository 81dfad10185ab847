package postgres

import "datacat/internal/storage"

func init() {
	// registers the relational backend factory
	storage.RegisterRelational("postgres", New)
}
