// Package models contains the gorm persistence models of the sync engine.
// Domain types stay free of ORM tags; each model converts with ToDomain and FromDomain.
package models
